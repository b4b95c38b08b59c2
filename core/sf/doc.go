// Package sf deduplicates concurrent calls that share a key.
//
// Only the first caller for a key runs the function; callers arriving while
// it is in flight wait and receive the same result. The event-sourcing core
// uses it so that concurrent first use of a per-type cache (dispatch tables,
// command bindings) converges on a single build:
//
//	var builds = sf.New[*table]()
//
//	t, err := builds.Do(typeName, func() (*table, error) {
//	    return buildTable(), nil
//	})
package sf
