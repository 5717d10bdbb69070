// Package registry provides a small generic registry of named values.
//
//	handlers := registry.New[string, *resilience.Handler]()
//	h := handlers.GetOrCreate("research", func() *resilience.Handler {
//	    return resilience.NewHandler("research")
//	})
//
// All methods are safe for concurrent use. All iterates over a snapshot
// taken when it is called.
package registry
