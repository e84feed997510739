package pf

// PinGuard ties a pinned page to a lexical scope: callers should
// `defer guard.Unfix(false)` right after a successful GetThisPage (or
// GetFirstPage/GetNextPage), and call guard.Unfix(true) on whichever
// exit path wrote to the page, so error paths can never leak a pin
// (spec §9, "scoped resource acquisition"). AllocPage returns no
// PinGuard; the page it pins is released with Manager.UnfixPage.
type PinGuard struct {
	mgr  *Manager
	fd   int
	page int32
	done bool
}

// Unfix releases the pin exactly once; subsequent calls are no-ops, so
// a deferred Unfix(false) after an explicit Unfix(true) on the happy
// path is safe.
func (g *PinGuard) Unfix(dirty bool) error {
	if g.done {
		return nil
	}
	g.done = true
	return g.mgr.UnfixPage(g.fd, g.page, dirty)
}

// PageNum reports the page this guard protects.
func (g *PinGuard) PageNum() int32 { return g.page }
