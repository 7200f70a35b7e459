package flow

import "github.com/louisbranch/bankdesk/internal/services/desk/storage"

// retryBusy reruns an operation once when its first attempt fails on a
// transient storage lock. Operations acquire their own order lock, so the
// second attempt starts from a clean read.
func retryBusy[T any](op func() (T, error)) (T, error) {
	out, err := op()
	if err == nil || !storage.IsBusy(err) {
		return out, err
	}
	return op()
}
