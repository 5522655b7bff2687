package services

import (
	"errors"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestIsAlreadyAcknowledged(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "message variant",
			err:  &googleapi.Error{Code: 400, Message: "The purchase is not in a valid state: already acknowledged."},
			want: true,
		},
		{
			name: "reason variant",
			err: &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{
				{Reason: "alreadyAcknowledged"},
			}},
			want: true,
		},
		{
			name: "other 400",
			err:  &googleapi.Error{Code: 400, Message: "Invalid purchase token."},
			want: false,
		},
		{
			name: "server error",
			err:  &googleapi.Error{Code: 500, Message: "already acknowledged"},
			want: false,
		},
		{
			name: "not a googleapi error",
			err:  errors.New("connection reset"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAlreadyAcknowledged(tt.err); got != tt.want {
				t.Errorf("isAlreadyAcknowledged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInt64PtrEq(t *testing.T) {
	zero := int64(0)
	one := int64(1)

	if int64PtrEq(nil, 0) {
		t.Error("nil pointer must not match")
	}
	if !int64PtrEq(&zero, 0) {
		t.Error("zero pointer must match 0")
	}
	if int64PtrEq(&one, 0) {
		t.Error("one pointer must not match 0")
	}
}
