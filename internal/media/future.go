package media

import "github.com/samber/mo"

// Go runs fn on its own goroutine and settles the returned future with its
// outcome. Every controller operation returns one of these.
func Go[T any](fn func() (T, error)) *mo.Future[T] {
	return mo.NewFuture(func(resolve func(T), reject func(error)) {
		v, err := fn()
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	})
}

// Settled returns a future that completes immediately with v and err.
func Settled[T any](v T, err error) *mo.Future[T] {
	return Go(func() (T, error) { return v, err })
}

// Await adapts a future for callback-style callers. cb runs on its own
// goroutine once the future settles.
func Await[T any](f *mo.Future[T], cb func(T, error)) {
	go func() {
		cb(f.Collect())
	}()
}
