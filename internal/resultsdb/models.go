package resultsdb

import "time"

// Run is one load test run.
type Run struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	RunID           string            `gorm:"size:26;uniqueIndex;not null" json:"run_id"`
	Project         string            `gorm:"size:255;index;not null" json:"project"`
	StartedAt       time.Time         `gorm:"index" json:"started_at"`
	RunTime         float64           `json:"run_time"`
	Rampup          float64           `json:"rampup"`
	ResultsInterval float64           `json:"results_ts_interval"`
	OutputDir       string            `gorm:"size:1024" json:"output_dir"`
	Groups          []UserGroupConfig `gorm:"foreignKey:RunID" json:"groups"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (Run) TableName() string { return "mm_runs" }

// UserGroupConfig is a group section as it was configured for a run.
type UserGroupConfig struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	RunID     uint    `gorm:"index;not null" json:"run_id"`
	Name      string  `gorm:"size:255;not null" json:"name"`
	Script    string  `gorm:"size:1024" json:"script"`
	Processes int     `json:"processes"`
	Threads   int     `json:"threads"`
	Rampup    float64 `json:"rampup"`
	StartTime float64 `json:"starttime"`
}

func (UserGroupConfig) TableName() string { return "mm_user_group_configs" }

// Timer is one transaction iteration.
type Timer struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	RunID        uint          `gorm:"index;not null" json:"run_id"`
	Seq          int64         `json:"seq"`
	Elapsed      float64       `json:"elapsed"`
	Epoch        float64       `json:"epoch"`
	UserGroup    string        `gorm:"size:255;index" json:"user_group"`
	Duration     float64       `json:"duration"`
	Error        string        `gorm:"type:text" json:"error"`
	CustomTimers []CustomTimer `gorm:"foreignKey:TimerID" json:"custom_timers"`
}

func (Timer) TableName() string { return "mm_timers" }

// CustomTimer is one named timer reported by an iteration.
type CustomTimer struct {
	ID      uint    `gorm:"primaryKey" json:"id"`
	TimerID uint    `gorm:"index;not null" json:"timer_id"`
	Name    string  `gorm:"size:255;index" json:"name"`
	Elapsed float64 `json:"elapsed"`
}

func (CustomTimer) TableName() string { return "mm_custom_timers" }
