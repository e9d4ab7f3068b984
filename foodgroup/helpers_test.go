package foodgroup

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// responseRecorder captures frames a handler sends back on the connection.
type responseRecorder struct {
	sent []wire.SNACMessage
}

func (r *responseRecorder) SendSNAC(frame wire.SNACFrame, body []byte) error {
	r.sent = append(r.sent, wire.SNACMessage{Frame: frame, Body: body})
	return nil
}

func (r *responseRecorder) bySubGroup(foodGroup, subGroup uint16) []wire.SNACMessage {
	var out []wire.SNACMessage
	for _, msg := range r.sent {
		if msg.Frame.FoodGroup == foodGroup && msg.Frame.SubGroup == subGroup {
			out = append(out, msg)
		}
	}
	return out
}

type fakeUserStore struct {
	users map[string]state.User
}

func newFakeUserStore(users ...state.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]state.User)}
	for _, u := range users {
		s.users[u.UIN] = u
	}
	return s
}

func (s *fakeUserStore) User(ctx context.Context, uin string) (state.User, error) {
	u, ok := s.users[uin]
	if !ok {
		return state.User{}, state.ErrNoUser
	}
	return u, nil
}

func (s *fakeUserStore) InsertUser(ctx context.Context, u state.User) error {
	if _, ok := s.users[u.UIN]; ok {
		return state.ErrDupUser
	}
	s.users[u.UIN] = u
	return nil
}

func (s *fakeUserStore) FindByUIN(ctx context.Context, uin string) ([]state.User, error) {
	if u, ok := s.users[uin]; ok {
		return []state.User{u}, nil
	}
	return nil, nil
}

func (s *fakeUserStore) FindByDetails(ctx context.Context, nickname, firstName, lastName, email string) ([]state.User, error) {
	if nickname == "" && firstName == "" && lastName == "" && email == "" {
		return nil, nil
	}
	match := func(field, filter string) bool {
		return filter == "" || strings.Contains(strings.ToLower(field), strings.ToLower(filter))
	}
	var out []state.User
	for _, u := range s.users {
		if match(u.Nickname, nickname) && match(u.FirstName, firstName) &&
			match(u.LastName, lastName) && match(u.Email, email) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UIN < out[j].UIN })
	return out, nil
}

func (s *fakeUserStore) SetUserDetails(ctx context.Context, u state.User) error {
	stored, ok := s.users[u.UIN]
	if !ok {
		return state.ErrNoUser
	}
	stored.Nickname = u.Nickname
	stored.FirstName = u.FirstName
	stored.LastName = u.LastName
	stored.Email = u.Email
	s.users[u.UIN] = stored
	return nil
}

type fakeFeedbagStore struct {
	items map[string][]wire.FeedbagItem
}

func newFakeFeedbagStore() *fakeFeedbagStore {
	return &fakeFeedbagStore{items: make(map[string][]wire.FeedbagItem)}
}

func (s *fakeFeedbagStore) Feedbag(ctx context.Context, uin string) ([]wire.FeedbagItem, error) {
	return s.items[uin], nil
}

func (s *fakeFeedbagStore) FeedbagUpsert(ctx context.Context, uin string, item wire.FeedbagItem) error {
	for i, existing := range s.items[uin] {
		if existing.GroupID == item.GroupID && existing.ItemID == item.ItemID {
			s.items[uin][i] = item
			return nil
		}
	}
	s.items[uin] = append(s.items[uin], item)
	return nil
}

func (s *fakeFeedbagStore) FeedbagDelete(ctx context.Context, uin string, item wire.FeedbagItem) error {
	kept := s.items[uin][:0]
	for _, existing := range s.items[uin] {
		if existing.GroupID != item.GroupID || existing.ItemID != item.ItemID {
			kept = append(kept, existing)
		}
	}
	s.items[uin] = kept
	return nil
}

func (s *fakeFeedbagStore) BuddyNames(ctx context.Context, uin string) ([]string, error) {
	var names []string
	for _, item := range s.items[uin] {
		if item.ClassID == wire.FeedbagClassIDBuddy {
			names = append(names, item.Name)
		}
	}
	return names, nil
}

func (s *fakeFeedbagStore) BuddyWatchers(ctx context.Context, uin string) ([]string, error) {
	var watchers []string
	for owner, items := range s.items {
		for _, item := range items {
			if item.ClassID == wire.FeedbagClassIDBuddy && item.Name == uin {
				watchers = append(watchers, owner)
				break
			}
		}
	}
	return watchers, nil
}

type fakeOfflineStore struct {
	msgs []state.OfflineMessage
}

func (s *fakeOfflineStore) StoreOfflineMessage(ctx context.Context, msg state.OfflineMessage) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeOfflineStore) DrainOfflineMessages(ctx context.Context, recipient string) ([]state.OfflineMessage, error) {
	var out []state.OfflineMessage
	kept := s.msgs[:0]
	for _, msg := range s.msgs {
		if msg.Recipient == recipient {
			out = append(out, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	s.msgs = kept
	sort.Slice(out, func(i, j int) bool { return out[i].Sent.Before(out[j].Sent) })
	return out, nil
}

func fixedTime() time.Time {
	return time.Unix(1700000000, 0)
}

func testLogger() *slog.Logger {
	return slog.Default()
}
