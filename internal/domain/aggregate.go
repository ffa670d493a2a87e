package domain

import "sort"

// ParticipantAggregate is the view-ready rollup for one participant. Points
// is always the sum over the participant's activities; TotalMinutes comes
// from the stored authoritative counter.
type ParticipantAggregate struct {
	Points       int `json:"points"`
	TotalMinutes int `json:"total_minutes"`
}

// AggregateParticipant recomputes a participant's points from the activity
// list. Activities belonging to other participants are ignored, so callers
// may pass the full collection.
func AggregateParticipant(p Participant, activities []Activity) ParticipantAggregate {
	points := 0
	for _, a := range activities {
		if a.ParticipantID == p.ID {
			points += a.Points
		}
	}
	return ParticipantAggregate{Points: points, TotalMinutes: p.TotalMinutes}
}

// TeamAggregate is the leaderboard rollup for one team.
type TeamAggregate struct {
	Team         Team `json:"team"`
	TotalPoints  int  `json:"total_points"`
	TotalMinutes int  `json:"total_minutes"`
	MemberCount  int  `json:"member_count"`
}

// AggregateTeam sums over participants whose team reference matches the team.
func AggregateTeam(team Team, participants []Participant) TeamAggregate {
	agg := TeamAggregate{Team: team}
	for _, p := range participants {
		if p.TeamID == nil || *p.TeamID != team.ID {
			continue
		}
		agg.TotalPoints += p.Points
		agg.TotalMinutes += p.TotalMinutes
		agg.MemberCount++
	}
	return agg
}

// RankTeams builds aggregates for every team and orders them descending by
// total points. Ties keep input order.
func RankTeams(teams []Team, participants []Participant) []TeamAggregate {
	ranked := make([]TeamAggregate, 0, len(teams))
	for _, t := range teams {
		ranked = append(ranked, AggregateTeam(t, participants))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalPoints > ranked[j].TotalPoints
	})
	return ranked
}
