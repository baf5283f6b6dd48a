// Package model defines the shared data structures of the core service.
//
// JobPosting rows live in the shared global pool — there is no per-user
// scoping on them. All user-specific state hangs off PersonaJob, the
// (persona, job) link row.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscoveryMethod records how a persona came to see a pool job.
type DiscoveryMethod string

const (
	DiscoveryScouter DiscoveryMethod = "scouter"
	DiscoveryManual  DiscoveryMethod = "manual"
	DiscoveryPool    DiscoveryMethod = "pool"
)

// LinkStatus is the per-user status of a persona_jobs row.
type LinkStatus string

const (
	LinkDiscovered LinkStatus = "DISCOVERED"
	LinkDismissed  LinkStatus = "DISMISSED"
	LinkApplied    LinkStatus = "APPLIED"
	LinkExpired    LinkStatus = "EXPIRED"
)

// RemotePreference is a persona's work-location preference.
type RemotePreference string

const (
	RemoteOnly   RemotePreference = "REMOTE_ONLY"
	HybridOK     RemotePreference = "HYBRID_OK"
	OnsiteOK     RemotePreference = "ONSITE_OK"
	NoPreference RemotePreference = "NO_PREFERENCE"
)

// WorkModel is the work model a posting advertises.
type WorkModel string

const (
	WorkRemote  WorkModel = "REMOTE"
	WorkHybrid  WorkModel = "HYBRID"
	WorkOnsite  WorkModel = "ONSITE"
	WorkUnknown WorkModel = "UNKNOWN"
)

// PollFrequency controls how often a persona's sources are polled.
type PollFrequency string

const (
	PollDaily      PollFrequency = "DAILY"
	PollTwiceDaily PollFrequency = "TWICE_DAILY"
	PollWeekly     PollFrequency = "WEEKLY"
	PollManualOnly PollFrequency = "MANUAL_ONLY"
)

// RawJob is a normalised offer fetched from an external job board, before
// enrichment and dedup. SourceName is stamped on by the orchestrator.
type RawJob struct {
	SourceName  string     `json:"sourceName"`
	ExternalID  string     `json:"externalId"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Description string     `json:"description"`
	SourceURL   string     `json:"sourceUrl"`
	Location    string     `json:"location,omitempty"`
	SalaryMin   *float64   `json:"salaryMin,omitempty"`
	SalaryMax   *float64   `json:"salaryMax,omitempty"`
	PostedDate  *time.Time `json:"postedDate,omitempty"`
}

// AlsoFoundOnEntry records one additional source a pool posting was seen on.
type AlsoFoundOnEntry struct {
	SourceID   string    `json:"sourceId"`
	ExternalID string    `json:"externalId,omitempty"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	FoundAt    time.Time `json:"foundAt"`
}

// AlsoFoundOn is the JSONB blob tracking cross-source dedup targets.
type AlsoFoundOn struct {
	Sources []AlsoFoundOnEntry `json:"sources"`
}

// GhostSignals is the structured breakdown behind a ghost score.
type GhostSignals struct {
	DaysSincePosted *int     `json:"daysSincePosted,omitempty"`
	RepostCount     int      `json:"repostCount"`
	Stale           bool     `json:"stale"`
	MissingDate     bool     `json:"missingDate"`
	Reasons         []string `json:"reasons,omitempty"`
}

// JobPosting is a Tier-0 row in the shared pool.
type JobPosting struct {
	ID                 string
	SourceID           string
	ExternalID         *string
	Title              string
	CompanyName        string
	Description        string
	DescriptionHash    string
	SourceURL          *string
	Location           *string
	WorkModel          WorkModel
	SeniorityLevel     *string
	SalaryMin          *float64
	SalaryMax          *float64
	RequirementsText   *string
	CultureText        *string
	RequiredSkills     []string
	PreferredSkills    []string
	YearsExpMin        *int
	YearsExpMax        *int
	GhostScore         *float64
	GhostSignals       *GhostSignals
	RepostCount        int
	PreviousPostingIDs []string
	AlsoFoundOn        AlsoFoundOn
	FirstSeenDate      time.Time
	LastVerifiedAt     *time.Time
	IsActive           bool
	IsQuarantined      bool
	QuarantinedUntil   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PersonaJob is the per-user link between a persona and a pool posting.
type PersonaJob struct {
	ID                   string
	PersonaID            string
	JobPostingID         string
	DiscoveryMethod      DiscoveryMethod
	DiscoveredAt         time.Time
	Status               LinkStatus
	IsFavorite           bool
	FitScore             *float64
	StretchScore         *float64
	FailedNonNegotiables []string
	ScoreDetails         map[string]any
	ScoredAt             *time.Time
	DismissedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PersonaSkill is one named skill attached to a persona (unique per persona).
type PersonaSkill struct {
	ID        string
	PersonaID string
	Name      string
	Years     *int
}

// AchievementStory is a STAR-style story used for cover-letter generation.
type AchievementStory struct {
	ID        string
	PersonaID string
	Title     string
	Situation string
	Action    string
	Result    string
	SkillTags []string
}

// VoiceProfile captures a persona's writing voice for generated content.
type VoiceProfile struct {
	PersonaID string
	Tone      string
	Formality string
	Notes     string
}

// CustomNonNegotiable is a user-defined hard filter on job text.
// Phrase must (MustContain=true) or must not appear in the combined
// title+description text, case-insensitive.
type CustomNonNegotiable struct {
	ID          string
	PersonaID   string
	Label       string
	Phrase      string
	MustContain bool
}

// Persona is a user's professional identity and matching preferences.
type Persona struct {
	ID                  string
	UserID              string
	FullName            string
	Location            *string
	CommutableCities    []string
	TargetRoles         []string
	TargetSkills        []string
	RemotePreference    RemotePreference
	MinimumBaseSalary   *float64
	IndustryExclusions  []string
	RequiresVisaSupport bool
	YearsExperience     int
	MinimumFitThreshold float64
	AutoDraftThreshold  float64
	OnboardingComplete  bool
	PollFrequency       PollFrequency
	LastPolledAt        *time.Time
	NextPollAt          *time.Time

	Skills         []PersonaSkill
	Stories        []AchievementStory
	Voice          *VoiceProfile
	NonNegotiables []CustomNonNegotiable
}

// User is the account holder. Balance is fixed-point USD, six decimals.
type User struct {
	ID              string
	Email           string
	IsAdmin         bool
	Balance         decimal.Decimal
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
}

// RegisteredModel is one (provider, model) row in the admin registry.
type RegisteredModel struct {
	ID          string
	Provider    string
	Model       string
	DisplayName string
	Type        string // "llm" or "embedding"
	IsActive    bool
	CreatedAt   time.Time
}

// PricingRow is effective-dated pricing for a (provider, model) pair.
// IsCurrent is computed at read time, never stored.
type PricingRow struct {
	ID               string
	Provider         string
	Model            string
	EffectiveDate    time.Time
	InputCostPer1K   decimal.Decimal
	OutputCostPer1K  decimal.Decimal
	MarginMultiplier decimal.Decimal
	IsCurrent        bool
}

// TaskRoute binds (provider, task_type) to a model. The task_type
// "_default" row is the fallback.
type TaskRoute struct {
	ID       string
	Provider string
	TaskType string
	Model    string
}

// UsageRecord is one row per metered provider call.
type UsageRecord struct {
	ID           string
	UserID       string
	Provider     string
	Model        string
	TaskType     string
	InputTokens  int
	OutputTokens int
	RawCost      decimal.Decimal
	BilledCost   decimal.Decimal
	MarginUsed   decimal.Decimal
	CreatedAt    time.Time
}

// Credit transaction types. The sum of a user's transactions equals the
// user's balance — the debit and grant paths maintain this atomically.
const (
	TxPurchase   = "purchase"
	TxUsageDebit = "usage_debit"
	TxAdminGrant = "admin_grant"
	TxRefund     = "refund"
)

// CreditTransaction is one signed ledger entry against a user's balance.
type CreditTransaction struct {
	ID          string
	UserID      string
	AmountUSD   decimal.Decimal
	Type        string
	ReferenceID *string
	Description string
	CreatedAt   time.Time
}
