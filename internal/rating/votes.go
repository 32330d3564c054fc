// Package rating scores pages from their vote distributions. Votes are
// -1, 0 or +1; which scorer turns a distribution into a number is a
// deployment choice.
package rating

// Votes is an immutable vote distribution for one page.
type Votes struct {
	distribution map[int16]int
	total        int
}

func NewVotes(distribution map[int16]int) Votes {
	total := 0
	copied := make(map[int16]int, len(distribution))
	for vote, count := range distribution {
		copied[vote] = count
		total += count
	}
	return Votes{distribution: copied, total: total}
}

// Count returns the total number of votes cast.
func (v Votes) Count() int {
	return v.total
}

// CountFor returns how many votes were cast with the given value.
func (v Votes) CountFor(vote int16) int {
	return v.distribution[vote]
}
