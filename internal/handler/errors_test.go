package handler

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/qr-access/internal/access"
)

func TestStatusFor(t *testing.T) {
	cases := map[access.Kind]int{
		access.KindInvalidInput:     http.StatusBadRequest,
		access.KindNotFound:         http.StatusNotFound,
		access.KindBlocked:          http.StatusForbidden,
		access.KindCooldown:         http.StatusForbidden,
		access.KindMaxReactivations: http.StatusForbidden,
		access.KindNotBound:         http.StatusForbidden,
		access.KindDeviceConflict:   http.StatusConflict,
		access.KindNoActiveBinding:  http.StatusConflict,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(&access.Error{Kind: kind}), string(kind))
		assert.Equal(t, want, StatusFor(errors.Wrap(&access.Error{Kind: kind}, "wrapped")), string(kind))
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("db down")))
}
