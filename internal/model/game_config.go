package model

import "github.com/shopspring/decimal"

// Config types read by action handlers.
const (
	ConfigFarm     = "farm"
	ConfigTasks    = "tasks"
	ConfigWithdraw = "withdraw"
)

// FarmLevel is one row of the "farm" config, keyed by level number.
type FarmLevel struct {
	SpeedPerHour decimal.Decimal `json:"speed_per_hour"`
	UpgradeCost  decimal.Decimal `json:"upgrade_cost"`
}

type FarmConfig map[string]FarmLevel

// TaskReward is paid once per claimed task.
type TaskReward struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type TaskDefinition struct {
	TaskList    map[string]JSONMap    `json:"task_list"`
	TaskRewards map[string]TaskReward `json:"task_rewards"`
}

type TasksConfig map[string]TaskDefinition
