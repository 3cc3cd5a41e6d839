package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valobridge-project/valobridge/internal/xmpp"
)

type fakeLinkStore struct {
	users    map[string]string
	channels map[string]string
	otps     map[string]int
	nextOTP  int
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{
		users:    make(map[string]string),
		channels: make(map[string]string),
		otps:     make(map[string]int),
		nextOTP:  123456,
	}
}

func (s *fakeLinkStore) GetUserID(remoteID string) (string, bool, error) {
	id, ok := s.users[remoteID]
	return id, ok, nil
}

func (s *fakeLinkStore) GetChannel(remoteID string) (string, bool, error) {
	ch, ok := s.channels[remoteID]
	return ch, ok, nil
}

func (s *fakeLinkStore) GetOrCreateOTP(remoteID string) (int, error) {
	if code, ok := s.otps[remoteID]; ok {
		return code, nil
	}
	code := s.nextOTP
	s.nextOTP++
	s.otps[remoteID] = code
	return code, nil
}

type reportedCall struct {
	channelID string
	messageID string
	report    *Report
}

type fakeReporter struct {
	posts   []reportedCall
	updates []reportedCall
	failAll bool
}

func (r *fakeReporter) Post(ctx context.Context, channelID string, report *Report) (string, error) {
	if r.failAll {
		return "", errors.New("channel unavailable")
	}
	r.posts = append(r.posts, reportedCall{channelID: channelID, report: report})
	return fmt.Sprintf("msg-%d", len(r.posts)), nil
}

func (r *fakeReporter) Update(ctx context.Context, channelID, messageID string, report *Report) (string, error) {
	if r.failAll {
		return "", errors.New("channel unavailable")
	}
	r.updates = append(r.updates, reportedCall{channelID: channelID, messageID: messageID, report: report})
	return messageID, nil
}

type fakeNames struct {
	name    string
	tagline string
	err     error
}

func (n *fakeNames) ResolveName(ctx context.Context, playerID string) (string, string, error) {
	if n.err != nil {
		return "", "", n.err
	}
	return n.name, n.tagline, nil
}

type fakeCatalog struct {
	mapNames  map[string]string
	mapImages map[string]string
	cardIcons map[string]string
}

func (c *fakeCatalog) MapName(matchMapURL string) (string, bool) {
	name, ok := c.mapNames[matchMapURL]
	return name, ok
}

func (c *fakeCatalog) MapImage(matchMapURL string) (string, bool) {
	image, ok := c.mapImages[matchMapURL]
	return image, ok
}

func (c *fakeCatalog) PlayerCardIcon(cardID string) (string, bool) {
	icon, ok := c.cardIcons[cardID]
	return icon, ok
}

func (c *fakeCatalog) RankName(tier int) string {
	if tier == 24 {
		return "Immortal 3"
	}
	return "Unranked"
}

type trackerFixture struct {
	tracker  *Tracker
	store    *fakeLinkStore
	reporter *fakeReporter
	names    *fakeNames
	catalog  *fakeCatalog
}

func newFixture() *trackerFixture {
	store := newFakeLinkStore()
	reporter := &fakeReporter{}
	names := &fakeNames{name: "Sova", tagline: "EU1"}
	catalog := &fakeCatalog{
		mapNames:  map[string]string{"/Game/Maps/Ascent/Ascent": "Ascent"},
		mapImages: map[string]string{"/Game/Maps/Ascent/Ascent": "https://cdn.example/ascent.png"},
		cardIcons: map[string]string{"card-1": "https://cdn.example/card-1.png"},
	}
	return &trackerFixture{
		tracker:  New("bridge-account", store, reporter, names, catalog, nil),
		store:    store,
		reporter: reporter,
		names:    names,
		catalog:  catalog,
	}
}

func (f *trackerFixture) link(playerID, userID, channelID string) {
	f.store.users[playerID] = userID
	if channelID != "" {
		f.store.channels[playerID] = channelID
	}
}

func inGamePresence(ally, enemy int) *xmpp.GamePresence {
	return &xmpp.GamePresence{
		SessionLoopState: xmpp.SessionStateInGame,
		AllyScore:        ally,
		EnemyScore:       enemy,
		MatchMap:         "/Game/Maps/Ascent/Ascent",
		CompetitiveTier:  24,
		AccountLevel:     120,
		PlayerCardID:     "card-1",
		QueueID:          "competitive",
	}
}

const testJID = "8a4e81c9@eu1.pvp.net/RC-1"

func TestHandlePresence_IgnoresMenuState(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	gp := inGamePresence(0, 0)
	gp.SessionLoopState = "MENUS"

	reply, err := f.tracker.HandlePresence(context.Background(), testJID, gp)
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Equal(t, 0, f.tracker.Len())

	reply, err = f.tracker.HandlePresence(context.Background(), testJID, nil)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestHandlePresence_WaitsForLoadedMap(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	gp := inGamePresence(0, 0)
	gp.MatchMap = ""

	reply, err := f.tracker.HandlePresence(context.Background(), testJID, gp)
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Equal(t, 0, f.tracker.Len())
	assert.Empty(t, f.reporter.posts)
}

func TestHandlePresence_UnlinkedPlayerGetsOTPPrompt(t *testing.T) {
	f := newFixture()

	reply, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "Please link your Discord account with /link using this OTP code: 123456", reply)
	assert.Equal(t, 0, f.tracker.Len())

	// The same code is reissued while it stays unredeemed.
	reply, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	assert.Contains(t, reply, "123456")
}

func TestHandlePresence_LinkedWithoutChannelGetsSetupPrompt(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "")

	reply, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "Please link a report channel using /link_channel", reply)
	assert.Equal(t, 0, f.tracker.Len())
}

func TestHandlePresence_CreatesMatch(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	reply, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(2, 1))
	require.NoError(t, err)
	assert.Empty(t, reply)
	require.Equal(t, 1, f.tracker.Len())

	require.Len(t, f.reporter.posts, 1)
	call := f.reporter.posts[0]
	assert.Equal(t, "channel-1", call.channelID)
	assert.Equal(t, "Sova", call.report.GameName)
	assert.Equal(t, "EU1", call.report.TagLine)
	assert.Equal(t, "Ascent", call.report.MapName)
	assert.Equal(t, "https://cdn.example/ascent.png", call.report.MapImageURL)
	assert.Equal(t, "https://cdn.example/card-1.png", call.report.CardIconURL)
	assert.Equal(t, "Immortal 3", call.report.RankName)
	assert.Equal(t, 2, call.report.AllyScore)
	assert.Equal(t, 1, call.report.EnemyScore)
	assert.False(t, call.report.Ended)

	active := f.tracker.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "msg-1", active[0].MessageID)
}

func TestHandlePresence_NameLookupFailureFallsBackToPlayerID(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")
	f.names.err = errors.New("pd endpoint unavailable")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)

	require.Len(t, f.reporter.posts, 1)
	assert.Equal(t, "8a4e81c9", f.reporter.posts[0].report.GameName)
}

func TestHandlePresence_UnknownMapKeepsRawID(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	gp := inGamePresence(0, 0)
	gp.MatchMap = "/Game/Maps/Unreleased/Unreleased"

	_, err := f.tracker.HandlePresence(context.Background(), testJID, gp)
	require.NoError(t, err)

	require.Len(t, f.reporter.posts, 1)
	assert.Equal(t, "/Game/Maps/Unreleased/Unreleased", f.reporter.posts[0].report.MapName)
	assert.Empty(t, f.reporter.posts[0].report.MapImageURL)
}

func TestHandlePresence_ScoreChangeUpdatesExistingMessage(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(3, 2))
	require.NoError(t, err)

	require.Len(t, f.reporter.posts, 1)
	require.Len(t, f.reporter.updates, 1)
	update := f.reporter.updates[0]
	assert.Equal(t, "msg-1", update.messageID)
	assert.Equal(t, 3, update.report.AllyScore)
	assert.Equal(t, 2, update.report.EnemyScore)

	active := f.tracker.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 3, active[0].AllyScore)
	assert.Equal(t, 2, active[0].EnemyScore)
}

func TestHandlePresence_ScoreResetEndsMatch(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(13, 7))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)

	assert.Equal(t, 0, f.tracker.Len())
	// The terminal transition removes the entry without rendering the
	// zeroed scoreboard.
	assert.Len(t, f.reporter.posts, 1)
	assert.Len(t, f.reporter.updates, 1)
	assert.Equal(t, 13, f.reporter.updates[0].report.AllyScore)
}

func TestHandlePresence_RepeatedScoreIsIdempotent(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(3, 2))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(3, 2))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(3, 2))
	require.NoError(t, err)

	// No duplicate entry, no end transition; the same message keeps being
	// edited in place.
	assert.Equal(t, 1, f.tracker.Len())
	assert.Len(t, f.reporter.posts, 1)
	assert.Len(t, f.reporter.updates, 2)
	for _, u := range f.reporter.updates {
		assert.False(t, u.report.Ended)
	}
}

func TestHandlePresence_ZeroZeroStartDoesNotEndMatch(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, f.tracker.Len())
	assert.Len(t, f.reporter.updates, 1)
}

func TestHandlePresence_EndedMatchCanRestart(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(5, 5))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	require.Equal(t, 0, f.tracker.Len())

	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(1, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, f.tracker.Len())
	// A fresh entry posts a new message instead of editing the old one.
	require.Len(t, f.reporter.posts, 2)
	assert.Equal(t, "msg-2", f.tracker.Active()[0].MessageID)
}

func TestHandlePresence_ReportFailureDoesNotBlockTracking(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")
	f.reporter.failAll = true

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	require.Equal(t, 1, f.tracker.Len())
	assert.Empty(t, f.tracker.Active()[0].MessageID)

	// Once the channel recovers, the next cycle retries with a fresh post.
	f.reporter.failAll = false
	_, err = f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(1, 0))
	require.NoError(t, err)
	require.Len(t, f.reporter.posts, 1)
	assert.Equal(t, "msg-1", f.tracker.Active()[0].MessageID)
}

func TestHandlePresence_MissingSenderIsAnError(t *testing.T) {
	f := newFixture()

	_, err := f.tracker.HandlePresence(context.Background(), "@eu1.pvp.net/RC-1", inGamePresence(0, 0))
	assert.Error(t, err)
}

func TestDropAll(t *testing.T) {
	f := newFixture()
	f.link("8a4e81c9", "discord-user", "channel-1")
	f.link("b2c3d4e5", "other-user", "channel-2")

	_, err := f.tracker.HandlePresence(context.Background(), testJID, inGamePresence(0, 0))
	require.NoError(t, err)
	_, err = f.tracker.HandlePresence(context.Background(), "b2c3d4e5@eu1.pvp.net/RC-1", inGamePresence(0, 0))
	require.NoError(t, err)
	require.Equal(t, 2, f.tracker.Len())

	f.tracker.DropAll()
	assert.Equal(t, 0, f.tracker.Len())
	assert.Empty(t, f.tracker.Active())
}

func TestReportStatus(t *testing.T) {
	cases := []struct {
		ally, enemy int
		ended       bool
		status      string
		color       int
	}{
		{0, 0, false, "Tied", 0x808080},
		{5, 2, false, "Winning", 0x00FF48},
		{2, 5, false, "Losing", 0xFF1919},
		{13, 7, true, "Won", 0x00FF48},
		{7, 13, true, "Lost", 0xFF1919},
		{10, 10, true, "Tied", 0x808080},
	}
	for _, tc := range cases {
		r := &Report{AllyScore: tc.ally, EnemyScore: tc.enemy, Ended: tc.ended}
		assert.Equal(t, tc.status, r.Status(), "score %d-%d ended=%v", tc.ally, tc.enemy, tc.ended)
		assert.Equal(t, tc.color, r.Color(), "score %d-%d ended=%v", tc.ally, tc.enemy, tc.ended)
	}
}
