package generation

import (
	"testing"

	"jobscout/core-service/internal/model"
)

func testPersona() *model.Persona {
	return &model.Persona{
		ID:          "p1",
		FullName:    "Sam Doe",
		TargetRoles: []string{"Backend Engineer"},
	}
}

func testJob() *model.JobPosting {
	return &model.JobPosting{
		ID:             "j1",
		Title:          "Backend Engineer",
		CompanyName:    "Acme",
		Description:    "Go services at scale.",
		RequiredSkills: []string{"Go", "PostgreSQL"},
	}
}

// ── EvaluateTailoring ──────────────────────────────────────────────────────

func TestEvaluateTailoring_UseBaseWhenResumeCovers(t *testing.T) {
	summary := "Backend engineer with Go and PostgreSQL experience."
	d := EvaluateTailoring(testPersona(), testJob(), summary)

	if d.Action != ActionUseBase {
		t.Errorf("action = %s, want %s (reasoning: %s)", d.Action, ActionUseBase, d.Reasoning)
	}
	if d.Reasoning == "" {
		t.Error("use_base still needs reasoning for the review screen")
	}
}

func TestEvaluateTailoring_VariantWhenSkillsMissing(t *testing.T) {
	summary := "Seasoned Java developer." // covers neither required skill
	d := EvaluateTailoring(testPersona(), testJob(), summary)

	if d.Action != ActionCreateVariant {
		t.Fatalf("action = %s, want %s", d.Action, ActionCreateVariant)
	}
	if len(d.MissingKeywords) != 2 {
		t.Errorf("missing keywords = %v, want both required skills", d.MissingKeywords)
	}
	if len(d.BulletOrder) == 0 {
		t.Error("create_variant must populate the bullet order")
	}
	if d.ModifiedSummary == "" {
		t.Error("create_variant must propose a modified summary")
	}
}

func TestEvaluateTailoring_VariantOnTitleDivergence(t *testing.T) {
	p := testPersona()
	p.TargetRoles = []string{"Data Scientist"}
	summary := "Engineer with Go and PostgreSQL experience."

	d := EvaluateTailoring(p, testJob(), summary)
	if d.Action != ActionCreateVariant {
		t.Errorf("action = %s, want %s when the title diverges from target roles", d.Action, ActionCreateVariant)
	}
}

func TestEvaluateTailoring_BulletOrderPutsRequiredFirst(t *testing.T) {
	job := testJob()
	job.PreferredSkills = []string{"Kafka"}
	d := EvaluateTailoring(testPersona(), job, "Nothing relevant.")

	if d.Action != ActionCreateVariant {
		t.Fatalf("action = %s, want %s", d.Action, ActionCreateVariant)
	}
	want := []string{"Go", "PostgreSQL", "Kafka"}
	if len(d.BulletOrder) != len(want) {
		t.Fatalf("bullet order = %v, want %v", d.BulletOrder, want)
	}
	for i := range want {
		if d.BulletOrder[i] != want[i] {
			t.Errorf("bullet order[%d] = %s, want %s", i, d.BulletOrder[i], want[i])
		}
	}
}

// ── SelectStories ──────────────────────────────────────────────────────────

func TestSelectStories_RanksByTagOverlap(t *testing.T) {
	stories := []model.AchievementStory{
		{ID: "s1", Title: "Migration", SkillTags: []string{"Java"}},
		{ID: "s2", Title: "Scaling", SkillTags: []string{"Go", "PostgreSQL"}},
		{ID: "s3", Title: "Oncall", SkillTags: []string{"go"}},
	}
	got := SelectStories(stories, testJob(), 2)

	if len(got) != 2 {
		t.Fatalf("got %d stories, want 2", len(got))
	}
	if got[0].ID != "s2" {
		t.Errorf("top story = %s, want s2 (two matching tags)", got[0].ID)
	}
	if got[1].ID != "s3" {
		t.Errorf("second story = %s, want s3 (tag match is case-insensitive)", got[1].ID)
	}
}

func TestSelectStories_FewerStoriesThanK(t *testing.T) {
	stories := []model.AchievementStory{{ID: "s1", SkillTags: []string{"Go"}}}
	if got := SelectStories(stories, testJob(), 3); len(got) != 1 {
		t.Errorf("got %d stories, want 1", len(got))
	}
}

func TestSelectStories_Empty(t *testing.T) {
	if got := SelectStories(nil, testJob(), 3); len(got) != 0 {
		t.Errorf("got %d stories, want 0", len(got))
	}
}
