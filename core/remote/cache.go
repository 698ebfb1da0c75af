package remote

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	BranchTTL     time.Duration
	BranchEntries int
	// ProfileTTL bounds how long user profiles and repository metadata live.
	ProfileTTL time.Duration
	// Disabled turns every lookup into a miss.
	Disabled bool
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.BranchTTL <= 0 {
		c.BranchTTL = 5 * time.Minute
	}
	if c.BranchEntries <= 0 {
		c.BranchEntries = 64
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = 10 * time.Minute
	}
	return c
}

// cache keeps branch lists in a TTL LRU, dropped whenever a ref is created,
// and user profiles plus repository metadata in ristretto.
type cache struct {
	cfg      CacheConfig
	branch   *expirable.LRU[string, []string]
	profiles *ristretto.Cache
}

func newCache(cfg CacheConfig) (*cache, error) {
	cfg = cfg.withDefaults()

	profiles, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}

	return &cache{
		cfg:      cfg,
		branch:   expirable.NewLRU[string, []string](cfg.BranchEntries, nil, cfg.BranchTTL),
		profiles: profiles,
	}, nil
}

func (c *cache) branches(repo RepoRef) ([]string, bool) {
	if c.cfg.Disabled {
		return nil, false
	}
	names, ok := c.branch.Get(repo.String())
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

func (c *cache) storeBranches(repo RepoRef, names []string) {
	if c.cfg.Disabled {
		return
	}
	c.branch.Add(repo.String(), append([]string(nil), names...))
}

func (c *cache) invalidateBranches(repo RepoRef) {
	c.branch.Remove(repo.String())
}

func (c *cache) user(login string) (*User, bool) {
	if c.cfg.Disabled {
		return nil, false
	}
	v, ok := c.profiles.Get("user:" + login)
	if !ok {
		return nil, false
	}
	u := *v.(*User)
	return &u, true
}

func (c *cache) storeUser(login string, u *User) {
	if c.cfg.Disabled {
		return
	}
	cp := *u
	c.profiles.SetWithTTL("user:"+login, &cp, 1, c.cfg.ProfileTTL)
	c.profiles.Wait()
}

func (c *cache) repository(repo RepoRef) (*Repository, bool) {
	if c.cfg.Disabled {
		return nil, false
	}
	v, ok := c.profiles.Get("repo:" + repo.String())
	if !ok {
		return nil, false
	}
	r := *v.(*Repository)
	return &r, true
}

func (c *cache) storeRepository(repo RepoRef, r *Repository) {
	if c.cfg.Disabled {
		return
	}
	cp := *r
	c.profiles.SetWithTTL("repo:"+repo.String(), &cp, 1, c.cfg.ProfileTTL)
	c.profiles.Wait()
}

// forgetRepository drops cached metadata, e.g. after forking.
func (c *cache) forgetRepository(repo RepoRef) {
	c.profiles.Del("repo:" + repo.String())
}

func (c *cache) close() {
	c.branch.Purge()
	c.profiles.Close()
}
