// Package shutdown coordinates graceful process shutdown.
//
// Components register a named hook as they start. On SIGINT, SIGTERM, or
// cancellation of the context passed to Wait, hooks run newest first under
// one deadline, so servers stop accepting before the device table is torn
// down.
//
//	h := shutdown.NewHandler(10*time.Second, logger)
//	h.OnShutdown("device table", func(context.Context) error { table.Close(); return nil })
//	h.OnShutdown("resp server", respServer.Shutdown)
//	err := h.Wait(ctx)
package shutdown
