package media

import (
	"testing"
	"time"
)

func buildShowTree(t *testing.T, title string, episodesPerSeason ...int) *Item {
	t.Helper()
	show := &Item{Type: TypeShow, Title: title, ImdbID: "tt1000"}
	for sn, count := range episodesPerSeason {
		season := NewSeason(show, sn+1)
		for en := 1; en <= count; en++ {
			season.AddChild(NewEpisode(season, en))
		}
		show.AddChild(season)
	}
	return show
}

func TestFillInMissingChildren(t *testing.T) {
	show := buildShowTree(t, "Foo", 1)
	fresh := buildShowTree(t, "Foo", 2, 1)

	show.FillInMissingChildren(fresh)

	if len(show.Children) != 2 {
		t.Fatalf("seasons = %d, want 2", len(show.Children))
	}
	if got := len(show.Child(1).Children); got != 2 {
		t.Errorf("season 1 episodes = %d, want 2", got)
	}
	if got := len(show.Child(2).Children); got != 1 {
		t.Errorf("season 2 episodes = %d, want 1", got)
	}
	if show.Child(2).Parent != show {
		t.Error("adopted season lost parent pointer")
	}
}

func TestFillInMissingChildrenKeepsExisting(t *testing.T) {
	show := buildShowTree(t, "Foo", 1)
	show.Child(1).Child(1).File = "existing.mkv"

	fresh := buildShowTree(t, "Foo", 1)
	show.FillInMissingChildren(fresh)

	if got := show.Child(1).Child(1).File; got != "existing.mkv" {
		t.Errorf("existing episode was replaced, File = %q", got)
	}
}

func TestCopyMissingAttributes(t *testing.T) {
	indexed := &Item{Type: TypeMovie, ImdbID: "tt2000", Title: "Bar", Year: 2020}
	stored := &Item{Type: TypeMovie, ImdbID: "tt2000", RequestedBy: "overseerr", OverseerrID: 77}

	indexed.CopyMissingAttributes(stored)

	if indexed.RequestedBy != "overseerr" {
		t.Errorf("RequestedBy = %q, want overseerr", indexed.RequestedBy)
	}
	if indexed.OverseerrID != 77 {
		t.Errorf("OverseerrID = %d, want 77", indexed.OverseerrID)
	}
	if indexed.Title != "Bar" {
		t.Errorf("Title clobbered to %q", indexed.Title)
	}
}

func TestCopyProgressCarriesAcquisitionState(t *testing.T) {
	now := time.Now()
	stored := &Item{
		ID:           41,
		Type:         TypeEpisode,
		Number:       3,
		File:         "s01e03.mkv",
		Folder:       "folder",
		Symlinked:    true,
		SymlinkedAt:  &now,
		ScrapedTimes: 4,
		ActiveStream: &ActiveStream{Infohash: "cafe"},
		RequestedBy:  "manual",
		RequestedAt:  &now,
	}
	fresh := &Item{Type: TypeEpisode, Number: 3, Title: "New Title"}

	fresh.CopyProgress(stored)

	if fresh.ID != 41 {
		t.Errorf("ID = %d, want 41", fresh.ID)
	}
	if fresh.File != "s01e03.mkv" || !fresh.Symlinked {
		t.Error("acquisition fields not carried")
	}
	if fresh.ScrapedTimes != 4 {
		t.Errorf("ScrapedTimes = %d, want 4", fresh.ScrapedTimes)
	}
	if fresh.ActiveStream == nil || fresh.ActiveStream.Infohash != "cafe" {
		t.Error("active stream not carried")
	}
	if fresh.Title != "New Title" {
		t.Errorf("Title = %q, fresh metadata must win", fresh.Title)
	}
}

func TestResetClearsAcquisitionState(t *testing.T) {
	now := time.Now()
	item := &Item{
		Type:              TypeMovie,
		Title:             "Baz",
		AiredAt:           &now,
		File:              "baz.mkv",
		Folder:            "baz",
		AlternativeFolder: "baz-alt",
		Symlinked:         true,
		SymlinkedAt:       &now,
		SymlinkedTimes:    3,
		ScrapedTimes:      5,
		Key:               "/library/metadata/9",
		UpdateFolder:      "updated",
		ActiveStream:      &ActiveStream{Infohash: "dead"},
	}
	item.AddStream(&Stream{Infohash: "dead", RawTitle: "Baz.2020"})

	item.Reset(true)

	if item.File != "" || item.Folder != "" || item.AlternativeFolder != "" {
		t.Error("paths not cleared")
	}
	if item.Symlinked || item.SymlinkedAt != nil {
		t.Error("symlink flags not cleared")
	}
	if item.Key != "" || item.UpdateFolder != "" {
		t.Error("library placement not cleared")
	}
	if item.ActiveStream != nil || len(item.Streams) != 0 {
		t.Error("streams not cleared")
	}
	if item.SymlinkedTimes != 0 || item.ScrapedTimes != 0 {
		t.Error("attempt counters not zeroed")
	}
	if got := item.State(); got != StateIndexed {
		t.Errorf("state after reset = %q, want Indexed", got)
	}
}

func TestResetWithoutTimesKeepsCounters(t *testing.T) {
	item := &Item{Type: TypeMovie, Title: "Baz", File: "f", Folder: "d", ScrapedTimes: 2}
	item.Reset(false)
	if item.ScrapedTimes != 2 {
		t.Errorf("ScrapedTimes = %d, want 2", item.ScrapedTimes)
	}
	if item.File != "" {
		t.Error("file not cleared")
	}
}

func TestResetRecursesIntoChildren(t *testing.T) {
	show := buildShowTree(t, "Foo", 1)
	ep := show.Child(1).Child(1)
	ep.File = "e.mkv"
	ep.Folder = "d"

	show.Reset(false)

	if ep.File != "" || ep.Folder != "" {
		t.Error("episode not reset through tree")
	}
}

func TestCloneDetachesFromOriginalTree(t *testing.T) {
	now := time.Now()
	show := buildShowTree(t, "Foo", 2)
	show.ID = 1
	show.Genres = []string{"drama"}
	season := show.Child(1)
	season.ID = 2
	ep1, ep2 := season.Child(1), season.Child(2)
	ep1.ID, ep2.ID = 3, 4
	ep1.AiredAt = &now
	ep1.AddStream(&Stream{Infohash: "aaaa", RawTitle: "Foo.S01E01", Rank: 5})
	ep1.ActiveStream = &ActiveStream{Infohash: "aaaa", Files: []string{"e1.mkv"}}

	clone := ep1.Clone()

	if clone == ep1 {
		t.Fatal("Clone() returned the original node")
	}
	if clone.ID != ep1.ID || clone.Number != ep1.Number {
		t.Errorf("clone = id %d number %d, want id %d number %d", clone.ID, clone.Number, ep1.ID, ep1.Number)
	}
	if clone.Show() == show {
		t.Fatal("clone still hangs off the original tree")
	}
	if clone.Show().ID != show.ID || clone.Parent.ID != season.ID {
		t.Error("parent chain not reproduced in the clone")
	}
	if got := len(clone.Parent.Children); got != 2 {
		t.Fatalf("cloned season has %d episodes, want 2", got)
	}

	// Writes on either side must stay invisible to the other.
	clone.AddStream(&Stream{Infohash: "bbbb"})
	if len(ep1.Streams) != 1 {
		t.Error("stream added to the clone leaked into the original")
	}
	clone.Streams["aaaa"].Rank = 99
	if ep1.Streams["aaaa"].Rank != 5 {
		t.Error("clone shares stream pointers with the original")
	}
	clone.ActiveStream.Files[0] = "other.mkv"
	if ep1.ActiveStream.Files[0] != "e1.mkv" {
		t.Error("clone shares the active stream file slice")
	}
	sibling := clone.Parent.Child(2)
	sibling.File = "s01e02.mkv"
	if ep2.File != "" {
		t.Error("write to a cloned sibling leaked into the original")
	}
	*clone.AiredAt = now.Add(time.Hour)
	if !ep1.AiredAt.Equal(now) {
		t.Error("clone shares a time pointer with the original")
	}
}

func TestLogString(t *testing.T) {
	show := buildShowTree(t, "Severance", 2)
	season := show.Child(1)
	episode := season.Child(2)

	tests := []struct {
		item *Item
		want string
	}{
		{show, "Severance"},
		{season, "Severance S01"},
		{episode, "Severance S01E02"},
		{&Item{Type: TypeMovie, Title: "Heat"}, "Heat"},
		{&Item{Type: TypeMovie, ImdbID: "tt0113277"}, "tt0113277"},
	}
	for _, tt := range tests {
		if got := tt.item.LogString(); got != tt.want {
			t.Errorf("LogString() = %q, want %q", got, tt.want)
		}
	}
}

func TestTreeIDs(t *testing.T) {
	show := buildShowTree(t, "Foo", 2)
	show.ID = 1
	show.Child(1).ID = 2
	show.Child(1).Child(1).ID = 3
	show.Child(1).Child(2).ID = 4

	ids := show.TreeIDs()
	if len(ids) != 4 {
		t.Fatalf("len(ids) = %d, want 4", len(ids))
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for want := int64(1); want <= 4; want++ {
		if !seen[want] {
			t.Errorf("id %d missing from tree ids", want)
		}
	}
}

func TestTreeIDsSkipsUnpersisted(t *testing.T) {
	show := buildShowTree(t, "Foo", 1)
	show.ID = 10
	// season and episode remain unpersisted

	ids := show.TreeIDs()
	if len(ids) != 1 || ids[0] != 10 {
		t.Errorf("ids = %v, want [10]", ids)
	}
}

func TestShowWalksToRoot(t *testing.T) {
	show := buildShowTree(t, "Foo", 1)
	season := show.Child(1)
	ep := season.Child(1)

	if got := ep.Show(); got != show {
		t.Error("episode did not resolve its show")
	}
	if got := season.Show(); got != show {
		t.Error("season did not resolve its show")
	}
	if got := show.Show(); got != show {
		t.Error("show must resolve to itself")
	}
}

func TestPropagateAttributes(t *testing.T) {
	show := buildShowTree(t, "Foo", 1)
	show.Genres = []string{"anime"}
	show.IsAnime = true
	show.Language = "ja"
	show.Country = "JP"
	show.Network = "MBS"

	show.PropagateAttributes()

	season := show.Child(1)
	ep := season.Child(1)
	if !season.IsAnime || !ep.IsAnime {
		t.Error("anime flag not propagated")
	}
	if ep.Language != "ja" || ep.Country != "JP" || ep.Network != "MBS" {
		t.Error("locale attributes not propagated")
	}
	if len(ep.Genres) != 1 || ep.Genres[0] != "anime" {
		t.Error("genres not propagated")
	}
}

func TestAddStreamKeepsHigherRank(t *testing.T) {
	item := &Item{Type: TypeMovie}
	item.AddStream(&Stream{Infohash: "AAAA", RawTitle: "low", Rank: 1})
	item.AddStream(&Stream{Infohash: "aaaa", RawTitle: "high", Rank: 9})

	if len(item.Streams) != 1 {
		t.Fatalf("streams = %d, want 1 (hash case-insensitive)", len(item.Streams))
	}
	s, ok := item.Streams["aaaa"]
	if !ok {
		t.Fatal("stream not stored under lowercase hash")
	}
	if s.Rank != 9 || s.RawTitle != "high" {
		t.Errorf("kept stream = %+v, want the higher ranked one", s)
	}
}

func TestIsReleased(t *testing.T) {
	past, future := time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
	tests := []struct {
		name string
		at   *time.Time
		want bool
	}{
		{"aired in the past", &past, true},
		{"airs in the future", &future, false},
		{"unknown air date", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := &Item{Type: TypeMovie, AiredAt: tt.at}
			if got := i.IsReleased(); got != tt.want {
				t.Errorf("IsReleased() = %v, want %v", got, tt.want)
			}
		})
	}
}
