// Package scoring implements the per-user fit/stretch scoring pipeline:
// non-negotiable filters, weighted component scores over persona
// embeddings, threshold-gated rationale generation and link persistence.
package scoring

import (
	"fmt"
	"strings"

	"jobscout/core-service/internal/model"
)

// Fit component weights. They sum to 1.
const (
	WeightHardSkills = 0.40
	WeightSoftSkills = 0.15
	WeightExperience = 0.25
	WeightRoleTitle  = 0.10
	WeightLogistics  = 0.10
)

// Stretch component weights.
const (
	WeightTargetRole   = 0.50
	WeightTargetSkills = 0.40
	WeightGrowth       = 0.10
)

// NeutralScore is the placeholder for components that cannot be computed
// (missing data, or the lightweight path that skips embeddings).
const NeutralScore = 70.0

// Experience penalties, points per year outside the advertised range.
const (
	underQualifiedPenalty = 20.0
	overQualifiedPenalty  = 5.0
)

// FitComponents holds the five fit sub-scores, each in [0, 100].
type FitComponents struct {
	HardSkills float64
	SoftSkills float64
	Experience float64
	RoleTitle  float64
	Logistics  float64
}

// Total applies the fit weights.
func (c FitComponents) Total() float64 {
	return clamp(c.HardSkills*WeightHardSkills +
		c.SoftSkills*WeightSoftSkills +
		c.Experience*WeightExperience +
		c.RoleTitle*WeightRoleTitle +
		c.Logistics*WeightLogistics)
}

// StretchComponents holds the three stretch sub-scores, each in [0, 100].
type StretchComponents struct {
	TargetRole   float64
	TargetSkills float64
	Growth       float64
}

// Total applies the stretch weights.
func (c StretchComponents) Total() float64 {
	return clamp(c.TargetRole*WeightTargetRole +
		c.TargetSkills*WeightTargetSkills +
		c.Growth*WeightGrowth)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FailedNonNegotiables evaluates every hard filter and returns the labels
// of those that failed. Empty means the job passes.
func FailedNonNegotiables(p *model.Persona, job *model.JobPosting) []string {
	var failed []string

	if p.MinimumBaseSalary != nil && job.SalaryMax != nil && *job.SalaryMax < *p.MinimumBaseSalary {
		failed = append(failed, fmt.Sprintf("salary below minimum (%.0f < %.0f)", *job.SalaryMax, *p.MinimumBaseSalary))
	}

	if !workModelCompatible(p.RemotePreference, job.WorkModel) {
		failed = append(failed, fmt.Sprintf("work model %s incompatible with preference %s", job.WorkModel, p.RemotePreference))
	}

	if p.RemotePreference == model.OnsiteOK && job.WorkModel == model.WorkOnsite &&
		len(p.CommutableCities) > 0 && job.Location != nil {
		if !cityCommutable(p.CommutableCities, *job.Location) {
			failed = append(failed, "location not commutable: "+*job.Location)
		}
	}

	text := strings.ToLower(job.Title + " " + job.Description)
	for _, industry := range p.IndustryExclusions {
		if industry != "" && strings.Contains(text, strings.ToLower(industry)) {
			failed = append(failed, "excluded industry: "+industry)
		}
	}

	if p.RequiresVisaSupport && mentionsNoSponsorship(text) {
		failed = append(failed, "no visa sponsorship")
	}

	for _, n := range p.NonNegotiables {
		contains := strings.Contains(text, strings.ToLower(n.Phrase))
		if n.MustContain != contains {
			failed = append(failed, "custom: "+n.Label)
		}
	}

	return failed
}

// workModelCompatible is the hard-filter half of the location logic: a
// job is only excluded when the preference strictly rules its model out.
func workModelCompatible(pref model.RemotePreference, wm model.WorkModel) bool {
	if wm == model.WorkUnknown || pref == model.NoPreference {
		return true
	}
	switch pref {
	case model.RemoteOnly:
		return wm == model.WorkRemote
	default:
		return true
	}
}

var noSponsorshipPhrases = []string{
	"no visa sponsorship",
	"no sponsorship",
	"unable to sponsor",
	"cannot sponsor",
	"not able to sponsor",
	"without sponsorship",
}

func mentionsNoSponsorship(lowerText string) bool {
	for _, p := range noSponsorshipPhrases {
		if strings.Contains(lowerText, p) {
			return true
		}
	}
	return false
}

func cityCommutable(cities []string, location string) bool {
	loc := strings.ToLower(location)
	for _, c := range cities {
		if c != "" && strings.Contains(loc, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

// ExperienceScore compares persona years against the advertised range.
// Inside the range scores 100; each year short costs 20 points, each year
// over costs 5; a job with no range is neutral.
func ExperienceScore(personaYears int, yearsMin, yearsMax *int) float64 {
	if yearsMin == nil && yearsMax == nil {
		return NeutralScore
	}
	if yearsMin != nil && personaYears < *yearsMin {
		return clamp(100 - underQualifiedPenalty*float64(*yearsMin-personaYears))
	}
	if yearsMax != nil && personaYears > *yearsMax {
		return clamp(100 - overQualifiedPenalty*float64(personaYears-*yearsMax))
	}
	return 100
}

// locationMatrix scores (remote preference × work model). No Preference
// and unknown work models are always 100.
var locationMatrix = map[model.RemotePreference]map[model.WorkModel]float64{
	model.RemoteOnly: {
		model.WorkRemote: 100,
		model.WorkHybrid: 30,
		model.WorkOnsite: 0,
	},
	model.HybridOK: {
		model.WorkRemote: 100,
		model.WorkHybrid: 100,
		model.WorkOnsite: 40,
	},
	model.OnsiteOK: {
		model.WorkRemote: 80,
		model.WorkHybrid: 90,
		model.WorkOnsite: 100,
	},
}

// LocationScore is the soft half of the location logic, used as the
// logistics fit component.
func LocationScore(pref model.RemotePreference, wm model.WorkModel) float64 {
	if pref == model.NoPreference || wm == model.WorkUnknown {
		return 100
	}
	row, ok := locationMatrix[pref]
	if !ok {
		return 100
	}
	return row[wm]
}

// KeywordOverlap scores how many of the job's skills appear among the
// persona's skills, case-insensitive, in [0, 100]. No job skills is
// neutral.
func KeywordOverlap(personaSkills, jobSkills []string) float64 {
	if len(jobSkills) == 0 {
		return NeutralScore
	}
	have := make(map[string]bool, len(personaSkills))
	for _, s := range personaSkills {
		have[strings.ToLower(strings.TrimSpace(s))] = true
	}
	matched := 0
	for _, s := range jobSkills {
		if have[strings.ToLower(strings.TrimSpace(s))] {
			matched++
		}
	}
	return 100 * float64(matched) / float64(len(jobSkills))
}

// TargetRoleScore is the best token overlap between any target role and
// the job title, in [0, 100].
func TargetRoleScore(targetRoles []string, jobTitle string) float64 {
	if len(targetRoles) == 0 {
		return NeutralScore
	}
	titleTokens := tokenSet(jobTitle)
	if len(titleTokens) == 0 {
		return 0
	}
	best := 0.0
	for _, role := range targetRoles {
		roleTokens := tokenSet(role)
		if len(roleTokens) == 0 {
			continue
		}
		common := 0
		for tok := range roleTokens {
			if titleTokens[tok] {
				common++
			}
		}
		score := 100 * float64(common) / float64(len(roleTokens))
		if score > best {
			best = score
		}
	}
	return clamp(best)
}

// TargetSkillsScore is the fraction of the persona's target skills the job
// asks for, in [0, 100].
func TargetSkillsScore(targetSkills []string, job *model.JobPosting) float64 {
	if len(targetSkills) == 0 {
		return NeutralScore
	}
	jobSkills := make(map[string]bool, len(job.RequiredSkills)+len(job.PreferredSkills))
	for _, s := range job.RequiredSkills {
		jobSkills[strings.ToLower(strings.TrimSpace(s))] = true
	}
	for _, s := range job.PreferredSkills {
		jobSkills[strings.ToLower(strings.TrimSpace(s))] = true
	}
	text := strings.ToLower(job.Title + " " + job.Description)
	matched := 0
	for _, s := range targetSkills {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" {
			continue
		}
		if jobSkills[k] || strings.Contains(text, k) {
			matched++
		}
	}
	return 100 * float64(matched) / float64(len(targetSkills))
}

// GrowthScore rewards jobs that ask for a bit more experience than the
// persona has — a stretch up, not a step down.
func GrowthScore(personaYears int, yearsMin *int) float64 {
	if yearsMin == nil {
		return 50
	}
	switch {
	case *yearsMin > personaYears:
		return 100
	case *yearsMin == personaYears:
		return 60
	default:
		return 30
	}
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,()/-")
		switch tok {
		case "", "a", "an", "the", "and", "or", "of", "for", "senior", "junior", "staff":
			continue
		}
		out[tok] = true
	}
	return out
}
