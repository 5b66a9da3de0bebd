package broker

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

// registry is the authoritative store of users and workers. It carries no
// lock of its own: the broker mutex covers it together with the indexes so
// admission, dispatch, and crediting see one consistent world.
type registry struct {
	usersByID    map[int64]*domain.User
	usersByKey   map[string]*domain.User
	usersByEmail map[string]*domain.User
	userOrder    []int64
	nextUserID   int64

	workersByID   map[string]*domain.Worker
	workersByName map[string]*domain.Worker
	workerOrder   []string
}

func newRegistry() *registry {
	return &registry{
		usersByID:     make(map[int64]*domain.User),
		usersByKey:    make(map[string]*domain.User),
		usersByEmail:  make(map[string]*domain.User),
		nextUserID:    1,
		workersByID:   make(map[string]*domain.Worker),
		workersByName: make(map[string]*domain.Worker),
	}
}

// addUser assigns the next display id and indexes the account.
func (r *registry) addUser(u *domain.User) {
	u.ID = r.nextUserID
	r.nextUserID++
	r.usersByID[u.ID] = u
	r.usersByKey[u.APIKey] = u
	r.usersByEmail[u.Email] = u
	r.userOrder = append(r.userOrder, u.ID)
}

func (r *registry) userByID(id int64) *domain.User { return r.usersByID[id] }

func (r *registry) userByKey(key string) *domain.User { return r.usersByKey[key] }

func (r *registry) userByEmail(email string) *domain.User { return r.usersByEmail[email] }

// userByUsername returns the earliest-registered user carrying the name.
// Usernames are not unique, so this is only a best-effort resolution.
func (r *registry) userByUsername(name string) *domain.User {
	for _, id := range r.userOrder {
		if u := r.usersByID[id]; u.Username == name {
			return u
		}
	}
	return nil
}

// resolveUser accepts either a bare username or a "username#id" alias.
func (r *registry) resolveUser(nameOrAlias string) *domain.User {
	if i := strings.LastIndex(nameOrAlias, "#"); i >= 0 {
		id, err := strconv.ParseInt(nameOrAlias[i+1:], 10, 64)
		if err != nil {
			return nil
		}
		u := r.usersByID[id]
		if u == nil || u.Username != nameOrAlias[:i] {
			return nil
		}
		return u
	}
	return r.userByUsername(nameOrAlias)
}

// users yields accounts in registration order.
func (r *registry) users() []*domain.User {
	out := make([]*domain.User, 0, len(r.userOrder))
	for _, id := range r.userOrder {
		out = append(out, r.usersByID[id])
	}
	return out
}

// load replaces the user set from a snapshot and re-derives the id counter.
func (r *registry) load(users []domain.User) {
	r.usersByID = make(map[int64]*domain.User, len(users))
	r.usersByKey = make(map[string]*domain.User, len(users))
	r.usersByEmail = make(map[string]*domain.User, len(users))
	r.userOrder = make([]int64, 0, len(users))
	r.nextUserID = 1

	sorted := make([]domain.User, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i := range sorted {
		u := sorted[i]
		r.usersByID[u.ID] = &u
		r.usersByKey[u.APIKey] = &u
		r.usersByEmail[u.Email] = &u
		r.userOrder = append(r.userOrder, u.ID)
		if u.ID >= r.nextUserID {
			r.nextUserID = u.ID + 1
		}
	}
}

// snapshot clones every account. User values carry no references, so the
// copies share nothing with live state.
func (r *registry) snapshot() []domain.User {
	out := make([]domain.User, 0, len(r.userOrder))
	for _, id := range r.userOrder {
		out = append(out, *r.usersByID[id])
	}
	return out
}

func (r *registry) addWorker(w *domain.Worker) {
	r.workersByID[w.ID] = w
	r.workersByName[w.Name] = w
	r.workerOrder = append(r.workerOrder, w.ID)
}

func (r *registry) workerByID(id string) *domain.Worker { return r.workersByID[id] }

func (r *registry) workerByName(name string) *domain.Worker { return r.workersByName[name] }

// workers yields nodes in registration order.
func (r *registry) workers() []*domain.Worker {
	out := make([]*domain.Worker, 0, len(r.workerOrder))
	for _, id := range r.workerOrder {
		out = append(out, r.workersByID[id])
	}
	return out
}
