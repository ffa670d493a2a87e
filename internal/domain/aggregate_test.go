package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestAggregateParticipantSumsOwnActivities(t *testing.T) {
	alex := Participant{ID: "p1", Name: "Alex", TotalMinutes: 55}
	activities := []Activity{
		{ID: "a1", ParticipantID: "p1", Minutes: 45, Points: PointsForMinutes(45), Date: "2025-05-10"},
		{ID: "a2", ParticipantID: "p1", Minutes: 10, Points: PointsForMinutes(10), Date: "2025-05-10"},
		{ID: "a3", ParticipantID: "p2", Minutes: 90, Points: PointsForMinutes(90), Date: "2025-05-11"},
	}

	agg := AggregateParticipant(alex, activities)
	assert.Equal(t, 3, agg.Points)
	assert.Equal(t, 55, agg.TotalMinutes)
}

func TestAggregateParticipantZeroActivities(t *testing.T) {
	agg := AggregateParticipant(Participant{ID: "p1"}, nil)
	assert.Equal(t, 0, agg.Points)
	assert.Equal(t, 0, agg.TotalMinutes)
}

func TestAggregateParticipantMatchesRandomSets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		p := Participant{ID: "p1"}
		var activities []Activity
		want := 0
		for j := 0; j < rng.Intn(20); j++ {
			owner := "p1"
			if rng.Intn(3) == 0 {
				owner = "p2"
			}
			minutes := rng.Intn(240)
			a := Activity{ParticipantID: owner, Minutes: minutes, Points: PointsForMinutes(minutes)}
			if owner == p.ID {
				want += a.Points
			}
			activities = append(activities, a)
		}
		require.Equal(t, want, AggregateParticipant(p, activities).Points)
	}
}

func TestAggregateTeam(t *testing.T) {
	red := Team{ID: "t1", Name: "Red", Color: "#ff0000"}
	participants := []Participant{
		{ID: "p1", Name: "Alex", Points: 3, TotalMinutes: 45, TeamID: strPtr("t1")},
		{ID: "p2", Name: "Sam", Points: 5, TotalMinutes: 20, TeamID: strPtr("t1")},
		{ID: "p3", Name: "Kim", Points: 9, TotalMinutes: 135, TeamID: strPtr("t2")},
		{ID: "p4", Name: "Solo", Points: 1, TotalMinutes: 15},
	}

	agg := AggregateTeam(red, participants)
	assert.Equal(t, 8, agg.TotalPoints)
	assert.Equal(t, 65, agg.TotalMinutes)
	assert.Equal(t, 2, agg.MemberCount)
}

func TestRankTeamsDescendingStable(t *testing.T) {
	teams := []Team{
		{ID: "t1", Name: "Red"},
		{ID: "t2", Name: "Blue"},
		{ID: "t3", Name: "Green"},
	}
	participants := []Participant{
		{ID: "p1", Points: 2, TeamID: strPtr("t1")},
		{ID: "p2", Points: 7, TeamID: strPtr("t2")},
		{ID: "p3", Points: 2, TeamID: strPtr("t3")},
	}

	ranked := RankTeams(teams, participants)
	require.Len(t, ranked, 3)
	assert.Equal(t, "t2", ranked[0].Team.ID)
	// t1 and t3 tie on points; input order is preserved.
	assert.Equal(t, "t1", ranked[1].Team.ID)
	assert.Equal(t, "t3", ranked[2].Team.ID)
}

func TestRankTeamsEmpty(t *testing.T) {
	assert.Empty(t, RankTeams(nil, nil))
}
