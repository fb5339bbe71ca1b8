// Package invalidation drops cached reads after a write and tells the
// user's open websocket connections which resources changed.
package invalidation

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/service/ws"
)

// Resource names used in cache keys and websocket events.
const (
	Transactions = "transactions"
	Categories   = "categories"
	Budgets      = "budgets"
	Goals        = "goals"
	Investments  = "investments"
	Cards        = "cards"
	Invoices     = "invoices"
	Templates    = "templates"
	Recurring    = "recurring"
	Dashboard    = "dashboard"
	Preferences  = "preferences"
)

// dependents lists what else goes stale when a resource changes.
var dependents = map[string][]string{
	Transactions: {Categories, Budgets, Dashboard},
	Budgets:      {Dashboard},
	Goals:        {Dashboard},
	Investments:  {Dashboard},
	Cards:        {Invoices},
	Invoices:     {Cards},
	Recurring:    {Dashboard},
	Preferences:  {Dashboard, Budgets},
}

// Publisher is satisfied by *ws.Hub.
type Publisher interface {
	Publish(userID uint, event ws.Event)
}

type Invalidator struct {
	cache *cache.Cache
	hub   Publisher
}

func New(c *cache.Cache, hub Publisher) *Invalidator {
	return &Invalidator{cache: c, hub: hub}
}

// Key builds a cache key for a user's resource.
func Key(userID uint, resource, detail string) string {
	return fmt.Sprintf("user:%d:%s:%s", userID, resource, detail)
}

// Changed invalidates the resources and their dependents for one user.
func (i *Invalidator) Changed(userID uint, resources ...string) {
	affected := expand(resources)
	removed := 0
	for _, r := range affected {
		removed += i.cache.InvalidatePattern(fmt.Sprintf("user:%d:%s:*", userID, r))
	}
	slog.Debug("cache invalidated", "user_id", userID, "resources", affected, "removed", removed)

	if i.hub != nil {
		i.hub.Publish(userID, ws.Event{Type: ws.InvalidateEvent, Resources: affected})
	}
}

// ForgetUser drops everything cached for a user (account deletion).
func (i *Invalidator) ForgetUser(userID uint) {
	i.cache.InvalidatePattern(fmt.Sprintf("user:%d:*", userID))
}

func expand(resources []string) []string {
	seen := map[string]bool{}
	for _, r := range resources {
		seen[r] = true
		for _, d := range dependents[r] {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
