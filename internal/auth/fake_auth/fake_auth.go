// Package fake_auth provides an authorizer for handler tests.
package fake_auth

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// FakeAuth authenticates every request while Allow is set and counts session calls.
type FakeAuth struct {
	Allow   bool
	started atomic.Int32
	cleared atomic.Int32
}

func New(allow bool) *FakeAuth {
	return &FakeAuth{Allow: allow}
}

func (fa *FakeAuth) StartSession(c *gin.Context) {
	fa.started.Add(1)
	c.Status(http.StatusOK)
}

func (fa *FakeAuth) ClearSession(w http.ResponseWriter) {
	fa.cleared.Add(1)
}

func (fa *FakeAuth) Authenticate(r *http.Request) bool {
	return fa.Allow
}

func (fa *FakeAuth) Started() int { return int(fa.started.Load()) }

func (fa *FakeAuth) Cleared() int { return int(fa.cleared.Load()) }
