package scoring

import (
	"math"
	"testing"

	"jobscout/core-service/internal/model"
)

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

// ── ExperienceScore ────────────────────────────────────────────────────────

func TestExperienceScore(t *testing.T) {
	cases := []struct {
		name     string
		years    int
		min, max *int
		want     float64
	}{
		{"no data is neutral", 5, nil, nil, NeutralScore},
		{"inside range", 5, i(3), i(8), 100},
		{"at lower bound", 3, i(3), i(8), 100},
		{"at upper bound", 8, i(3), i(8), 100},
		{"one year short", 4, i(5), nil, 80},
		{"three years short", 2, i(5), nil, 40},
		{"far short clamps at zero", 0, i(10), nil, 0},
		{"two years over", 10, i(3), i(8), 90},
		{"min only, above it", 7, i(3), nil, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ExperienceScore(c.years, c.min, c.max); got != c.want {
				t.Errorf("ExperienceScore(%d, %v, %v) = %v, want %v", c.years, c.min, c.max, got, c.want)
			}
		})
	}
}

// ── LocationScore ──────────────────────────────────────────────────────────

func TestLocationScore(t *testing.T) {
	cases := []struct {
		pref model.RemotePreference
		wm   model.WorkModel
		want float64
	}{
		{model.NoPreference, model.WorkOnsite, 100},
		{model.NoPreference, model.WorkRemote, 100},
		{model.RemoteOnly, model.WorkRemote, 100},
		{model.RemoteOnly, model.WorkOnsite, 0},
		{model.RemoteOnly, model.WorkHybrid, 30},
		{model.HybridOK, model.WorkHybrid, 100},
		{model.HybridOK, model.WorkOnsite, 40},
		{model.OnsiteOK, model.WorkOnsite, 100},
		{model.OnsiteOK, model.WorkRemote, 80},
		{model.RemoteOnly, model.WorkUnknown, 100},
	}
	for _, c := range cases {
		if got := LocationScore(c.pref, c.wm); got != c.want {
			t.Errorf("LocationScore(%s, %s) = %v, want %v", c.pref, c.wm, got, c.want)
		}
	}
}

// ── KeywordOverlap ─────────────────────────────────────────────────────────

func TestKeywordOverlap(t *testing.T) {
	persona := []string{"Go", "PostgreSQL", "Redis"}

	if got := KeywordOverlap(persona, nil); got != NeutralScore {
		t.Errorf("no job skills should be neutral, got %v", got)
	}
	if got := KeywordOverlap(persona, []string{"go", "postgresql"}); got != 100 {
		t.Errorf("full coverage = %v, want 100 (match is case-insensitive)", got)
	}
	if got := KeywordOverlap(persona, []string{"Go", "Kafka"}); got != 50 {
		t.Errorf("half coverage = %v, want 50", got)
	}
	if got := KeywordOverlap(nil, []string{"Go"}); got != 0 {
		t.Errorf("no persona skills = %v, want 0", got)
	}
}

// ── Weighted totals ────────────────────────────────────────────────────────

func TestFitComponentsTotal(t *testing.T) {
	perfect := FitComponents{HardSkills: 100, SoftSkills: 100, Experience: 100, RoleTitle: 100, Logistics: 100}
	if got := perfect.Total(); got != 100 {
		t.Errorf("all-100 total = %v, want 100", got)
	}

	c := FitComponents{HardSkills: 80, SoftSkills: 60, Experience: 100, RoleTitle: 50, Logistics: 100}
	want := 80*0.40 + 60*0.15 + 100*0.25 + 50*0.10 + 100*0.10
	if got := c.Total(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Total() = %v, want %v", got, want)
	}
}

func TestStretchComponentsTotal(t *testing.T) {
	c := StretchComponents{TargetRole: 100, TargetSkills: 50, Growth: 0}
	want := 100*0.50 + 50*0.40
	if got := c.Total(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Total() = %v, want %v", got, want)
	}
}

// ── FailedNonNegotiables ───────────────────────────────────────────────────

func basePersona() *model.Persona {
	return &model.Persona{
		ID:               "p1",
		RemotePreference: model.NoPreference,
	}
}

func baseJob() *model.JobPosting {
	loc := "Berlin"
	return &model.JobPosting{
		ID:          "j1",
		Title:       "Backend Engineer",
		Description: "Build services in Go.",
		WorkModel:   model.WorkRemote,
		Location:    &loc,
	}
}

func TestFailedNonNegotiables_AllPass(t *testing.T) {
	if failed := FailedNonNegotiables(basePersona(), baseJob()); len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}
}

func TestFailedNonNegotiables_Salary(t *testing.T) {
	p := basePersona()
	p.MinimumBaseSalary = f64(100_000)
	job := baseJob()
	job.SalaryMax = f64(80_000)

	if failed := FailedNonNegotiables(p, job); len(failed) != 1 {
		t.Errorf("expected one salary failure, got %v", failed)
	}

	// Missing salary data never fails the filter.
	job.SalaryMax = nil
	if failed := FailedNonNegotiables(p, job); len(failed) != 0 {
		t.Errorf("missing salary should pass, got %v", failed)
	}
}

func TestFailedNonNegotiables_RemoteOnly(t *testing.T) {
	p := basePersona()
	p.RemotePreference = model.RemoteOnly
	job := baseJob()
	job.WorkModel = model.WorkOnsite

	if failed := FailedNonNegotiables(p, job); len(failed) != 1 {
		t.Errorf("expected work-model failure, got %v", failed)
	}

	job.WorkModel = model.WorkUnknown
	if failed := FailedNonNegotiables(p, job); len(failed) != 0 {
		t.Errorf("unknown work model should pass the hard filter, got %v", failed)
	}
}

func TestFailedNonNegotiables_Commute(t *testing.T) {
	p := basePersona()
	p.RemotePreference = model.OnsiteOK
	p.CommutableCities = []string{"Munich", "Stuttgart"}
	job := baseJob()
	job.WorkModel = model.WorkOnsite

	if failed := FailedNonNegotiables(p, job); len(failed) != 1 {
		t.Errorf("Berlin onsite should fail a Munich commuter, got %v", failed)
	}

	loc := "Munich, Germany"
	job.Location = &loc
	if failed := FailedNonNegotiables(p, job); len(failed) != 0 {
		t.Errorf("Munich onsite should pass, got %v", failed)
	}
}

func TestFailedNonNegotiables_IndustryExclusion(t *testing.T) {
	p := basePersona()
	p.IndustryExclusions = []string{"gambling"}
	job := baseJob()
	job.Description = "Build services for our online gambling platform."

	if failed := FailedNonNegotiables(p, job); len(failed) != 1 {
		t.Errorf("expected industry failure, got %v", failed)
	}
}

func TestFailedNonNegotiables_VisaSupport(t *testing.T) {
	p := basePersona()
	p.RequiresVisaSupport = true
	job := baseJob()
	job.Description = "Great role. No visa sponsorship available."

	if failed := FailedNonNegotiables(p, job); len(failed) != 1 {
		t.Errorf("expected visa failure, got %v", failed)
	}
}

func TestFailedNonNegotiables_Custom(t *testing.T) {
	p := basePersona()
	p.NonNegotiables = []model.CustomNonNegotiable{
		{Label: "no on-call", Phrase: "on-call", MustContain: false},
		{Label: "mentions pension", Phrase: "pension", MustContain: true},
	}
	job := baseJob()
	job.Description = "Weekly on-call rotation. No pension scheme mentioned here... actually pension included."

	failed := FailedNonNegotiables(p, job)
	// on-call present (must not contain) fails; pension present (must contain) passes.
	if len(failed) != 1 {
		t.Errorf("expected exactly one custom failure, got %v", failed)
	}
}

// ── Stretch components ─────────────────────────────────────────────────────

func TestTargetRoleScore(t *testing.T) {
	if got := TargetRoleScore(nil, "Backend Engineer"); got != NeutralScore {
		t.Errorf("no target roles should be neutral, got %v", got)
	}
	if got := TargetRoleScore([]string{"Backend Engineer"}, "Backend Engineer"); got != 100 {
		t.Errorf("exact role = %v, want 100", got)
	}
	if got := TargetRoleScore([]string{"Backend Engineer"}, "Frontend Designer"); got != 0 {
		t.Errorf("unrelated role = %v, want 0", got)
	}
}

func TestTargetSkillsScore(t *testing.T) {
	job := baseJob()
	job.RequiredSkills = []string{"Go", "Kubernetes"}
	job.Description = "You will use Terraform daily."

	got := TargetSkillsScore([]string{"Go", "Terraform", "Rust"}, job)
	want := 100.0 * 2 / 3 // Go via skills, Terraform via text, Rust missing
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("TargetSkillsScore = %v, want %v", got, want)
	}
}

func TestGrowthScore(t *testing.T) {
	if got := GrowthScore(5, nil); got != 50 {
		t.Errorf("no range = %v, want 50", got)
	}
	if got := GrowthScore(5, i(7)); got != 100 {
		t.Errorf("stretch up = %v, want 100", got)
	}
	if got := GrowthScore(5, i(5)); got != 60 {
		t.Errorf("level move = %v, want 60", got)
	}
	if got := GrowthScore(5, i(2)); got != 30 {
		t.Errorf("step down = %v, want 30", got)
	}
}

// ── Lightweight path ───────────────────────────────────────────────────────

func TestLightweightFit_UsesNeutralPlaceholders(t *testing.T) {
	p := basePersona()
	p.Skills = []model.PersonaSkill{{Name: "Go"}, {Name: "PostgreSQL"}}
	p.YearsExperience = 5
	job := baseJob()
	job.RequiredSkills = []string{"Go", "PostgreSQL"}

	got := LightweightFit(p, job)
	want := FitComponents{
		HardSkills: 100,
		SoftSkills: NeutralScore,
		Experience: NeutralScore,
		RoleTitle:  NeutralScore,
		Logistics:  100,
	}.Total()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("LightweightFit = %v, want %v", got, want)
	}
}

func TestKeywordPreScreen(t *testing.T) {
	p := basePersona()
	p.Skills = []model.PersonaSkill{{Name: "PostgreSQL"}}
	job := baseJob()
	job.Description = "Deep postgresql tuning experience required."

	if !KeywordPreScreen(p, job) {
		t.Error("expected pre-screen pass on case-insensitive substring")
	}

	p.Skills = []model.PersonaSkill{{Name: "Erlang"}}
	if KeywordPreScreen(p, job) {
		t.Error("expected pre-screen failure when no skill appears")
	}
}
