package storage

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsBusy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrBusy, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("load order: %w", ErrBusy), want: true},
		{name: "driver lock text", err: errors.New("check phone usage: database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "not found", err: ErrNotFound, want: false},
		{name: "plain failure", err: errors.New("disk I/O error"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsBusy(tc.err); got != tc.want {
				t.Fatalf("IsBusy(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}
