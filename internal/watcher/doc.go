// Package watcher reports changes to chunk files on disk.
//
// Events from fsnotify are filtered to the configured files and directories
// and debounced, so an editor writing a file several times in quick
// succession produces one batch:
//
//	w, err := watcher.New(watcher.Options{Paths: cfg.Storage.ChunkFiles})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx)
//	for batch := range w.Events() {
//	    coordinator.HandleEvents(ctx, batch)
//	}
package watcher
