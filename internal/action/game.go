package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"farmgate/internal/clock"
	"farmgate/internal/configsync"
	"farmgate/internal/model"
	"farmgate/internal/repository"
	"farmgate/internal/txn"
)

const (
	maxFarmLevel   = 20
	maxFarmPeriod  = 2 * time.Hour
	maxTaskFieldSz = 50
)

var (
	errConfigMissing = errors.New("config not loaded")
	codec            = sonic.ConfigStd
)

// Game holds the gameplay actions. Every mutation runs under the caller's
// user lock profile and commits to the cache only once all checks pass.
type Game struct {
	coord   *txn.Coordinator
	users   *repository.UserCache
	configs *configsync.Reader
	clock   clock.Clock
}

func NewGame(coord *txn.Coordinator, users *repository.UserCache, configs *configsync.Reader, clk clock.Clock) *Game {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Game{coord: coord, users: users, configs: configs, clock: clk}
}

func (g *Game) Register(r *Registry) {
	r.Handle("self/get", g.selfGet)
	r.Handle("config/get", g.configGet)
	r.Handle("farm/start", g.farmStart)
	r.Handle("farm/claim", g.farmClaim)
	r.Handle("farm/upgrade", g.farmUpgrade)
	r.Handle("task/set", g.taskSet)
	r.Handle("task/claim", g.taskClaim)
}

// decode reports false when data does not fit dest; such requests are ignored.
func decode(data json.RawMessage, dest any) bool {
	if len(data) == 0 {
		return false
	}
	return codec.Unmarshal(data, dest) == nil
}

// mutateUser loads the cached user under its lock profile, applies fn and
// commits the user together with fn's activity entry, if any.
func (g *Game) mutateUser(ctx context.Context, teleID string, fn func(ctx context.Context, u *model.User) (*model.ActivityLog, error)) error {
	return g.coord.WithProfile(ctx, txn.UserProfile(teleID), func(ctx context.Context) error {
		u, ok, err := g.users.User(ctx, teleID)
		if err != nil {
			return err
		}
		if !ok {
			return txn.ErrEntityNotFound
		}
		entry, err := fn(ctx, u)
		if err != nil {
			return err
		}
		// The locks may be gone once ctx is done.
		if err := ctx.Err(); err != nil {
			return err
		}
		return g.users.Commit(ctx, u, entry)
	})
}

func (g *Game) selfGet(ctx context.Context, call *Call) error {
	var req struct {
		Projection *string `json:"projection"`
	}
	if !decode(call.Data, &req) || req.Projection == nil {
		return nil
	}

	u, ok, err := g.users.User(ctx, call.Identity.TeleID)
	if err != nil {
		return err
	}
	if !ok {
		return txn.ErrEntityNotFound
	}

	raw, err := codec.Marshal(u)
	if err != nil {
		return err
	}
	var doc map[string]json.RawMessage
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return err
	}

	if *req.Projection == "*" {
		call.Reply(call.ReturnAction, doc)
		return nil
	}
	out := make(map[string]json.RawMessage)
	for _, field := range strings.Fields(*req.Projection) {
		if v, ok := doc[field]; ok {
			out[field] = v
		} else {
			out[field] = json.RawMessage("null")
		}
	}
	call.Reply(call.ReturnAction, out)
	return nil
}

func (g *Game) configGet(ctx context.Context, call *Call) error {
	var req struct {
		Projection string `json:"projection"`
	}
	decode(call.Data, &req)

	out := make(map[string]json.RawMessage)
	if req.Projection == "*" {
		all, err := g.configs.All(ctx)
		if err != nil {
			return err
		}
		for typ, doc := range all {
			if typ == model.ConfigWithdraw {
				continue
			}
			out[typ] = doc
		}
	}
	call.Reply(call.ReturnAction, out)
	return nil
}

func (g *Game) farmStart(ctx context.Context, call *Call) error {
	now := g.clock.Now()
	err := g.mutateUser(ctx, call.Identity.TeleID, func(_ context.Context, u *model.User) (*model.ActivityLog, error) {
		if u.FarmAt != nil {
			return nil, txn.Reject("You have already farmed")
		}
		u.FarmAt = &now
		u.Touch("set_farm_at", now)
		return nil, nil
	})
	if err != nil {
		return err
	}
	call.Reply(call.ReturnAction, map[string]any{"farm_at": now})
	return nil
}

func (g *Game) farmConfig(ctx context.Context) (model.FarmConfig, error) {
	var farm model.FarmConfig
	ok, err := g.configs.Get(ctx, model.ConfigFarm, &farm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errConfigMissing, model.ConfigFarm)
	}
	return farm, nil
}

func (g *Game) farmClaim(ctx context.Context, call *Call) error {
	now := g.clock.Now()
	var amount decimal.Decimal
	err := g.mutateUser(ctx, call.Identity.TeleID, func(ctx context.Context, u *model.User) (*model.ActivityLog, error) {
		if u.FarmAt == nil {
			return nil, txn.Reject("You have not farmed yet")
		}
		farm, err := g.farmConfig(ctx)
		if err != nil {
			return nil, err
		}
		level, ok := farm[strconv.Itoa(u.FarmLevel)]
		if !ok {
			return nil, fmt.Errorf("%w: farm level %d", errConfigMissing, u.FarmLevel)
		}

		elapsed := now.Sub(*u.FarmAt)
		if elapsed > maxFarmPeriod {
			elapsed = maxFarmPeriod
		}
		if elapsed < 0 {
			elapsed = 0
		}
		hours := decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(time.Hour.Milliseconds()))
		amount = level.SpeedPerHour.Mul(hours)

		farmAt := *u.FarmAt
		u.Credit(model.AssetTPL, amount, now)
		u.FarmAt = nil
		u.Touch("unset_farm_at", now)
		return &model.ActivityLog{
			TeleID:    u.TeleID,
			LogType:   "farm/claim",
			Details:   model.JSONMap{"amount": amount.String(), "farm_at": farmAt},
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		return err
	}
	call.Reply(call.ReturnAction, map[string]any{"amount": amount})
	return nil
}

func (g *Game) farmUpgrade(ctx context.Context, call *Call) error {
	now := g.clock.Now()
	var cost decimal.Decimal
	var newLevel int
	err := g.mutateUser(ctx, call.Identity.TeleID, func(ctx context.Context, u *model.User) (*model.ActivityLog, error) {
		if u.FarmLevel >= maxFarmLevel {
			return nil, txn.Reject("Your farm is already at the maximum level")
		}
		farm, err := g.farmConfig(ctx)
		if err != nil {
			return nil, err
		}
		newLevel = u.FarmLevel + 1
		next, ok := farm[strconv.Itoa(newLevel)]
		if !ok {
			return nil, fmt.Errorf("%w: farm level %d", errConfigMissing, newLevel)
		}
		cost = next.UpgradeCost
		if !u.Debit(model.AssetTPL, cost, now) {
			return nil, txn.Reject("You do not have enough balance to upgrade the farm")
		}

		fromLevel := u.FarmLevel
		u.FarmLevel = newLevel
		u.Touch("set_farm_level_at", now)
		if u.FarmAt != nil {
			u.FarmAt = nil
			u.Touch("unset_farm_at", now)
		}
		return &model.ActivityLog{
			TeleID:    u.TeleID,
			LogType:   "farm/upgrade",
			Details:   model.JSONMap{"from_level": fromLevel, "to_level": newLevel, "tpl": cost.String()},
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		return err
	}
	call.Reply(call.ReturnAction, map[string]any{"upgrade_cost": cost, "new_level": newLevel})
	return nil
}

func (g *Game) tasksConfig(ctx context.Context) (model.TasksConfig, error) {
	var tasks model.TasksConfig
	ok, err := g.configs.Get(ctx, model.ConfigTasks, &tasks)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errConfigMissing, model.ConfigTasks)
	}
	return tasks, nil
}

func (g *Game) taskSet(ctx context.Context, call *Call) error {
	var req struct {
		TaskID string `json:"task_id"`
		Action string `json:"action"`
	}
	if !decode(call.Data, &req) ||
		req.TaskID == "" || len(req.TaskID) > maxTaskFieldSz ||
		req.Action == "" || len(req.Action) > maxTaskFieldSz {
		return nil
	}

	now := g.clock.Now()
	recorded := false
	err := g.mutateUser(ctx, call.Identity.TeleID, func(ctx context.Context, u *model.User) (*model.ActivityLog, error) {
		tasks, err := g.tasksConfig(ctx)
		if err != nil {
			return nil, err
		}
		def, ok := tasks[req.TaskID]
		if !ok {
			return nil, nil
		}
		if _, ok := def.TaskList[req.Action]; !ok {
			return nil, nil
		}

		if u.Tasks == nil {
			u.Tasks = model.Tasks{}
		}
		state := u.Tasks[req.TaskID]
		if _, done := state.Actions[req.Action]; done {
			return nil, nil
		}
		if state.Actions == nil {
			state.Actions = make(map[string]time.Time)
		}
		state.Actions[req.Action] = now
		u.Tasks[req.TaskID] = state
		recorded = true
		return nil, nil
	})
	if err != nil {
		return err
	}
	if recorded {
		call.Reply(call.ReturnAction, map[string]any{"created_at": now})
	}
	return nil
}

func (g *Game) taskClaim(ctx context.Context, call *Call) error {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if !decode(call.Data, &req) || req.TaskID == "" || len(req.TaskID) > maxTaskFieldSz {
		return nil
	}

	now := g.clock.Now()
	claimed := false
	err := g.mutateUser(ctx, call.Identity.TeleID, func(ctx context.Context, u *model.User) (*model.ActivityLog, error) {
		tasks, err := g.tasksConfig(ctx)
		if err != nil {
			return nil, err
		}
		def, ok := tasks[req.TaskID]
		if !ok {
			return nil, nil
		}

		state := u.Tasks[req.TaskID]
		for action := range def.TaskList {
			if _, done := state.Actions[action]; !done {
				return nil, txn.Reject("You have not completed the task")
			}
		}
		if state.FinishedAt != nil {
			return nil, txn.Reject("You have already claimed this task")
		}

		rewards := model.JSONMap{}
		for asset, reward := range def.TaskRewards {
			if reward.Type != "token" || (asset != model.AssetTPL && asset != model.AssetTON) {
				continue
			}
			u.Credit(asset, reward.Amount, now)
			rewards[asset] = reward.Amount.String()
		}
		state.FinishedAt = &now
		if u.Tasks == nil {
			u.Tasks = model.Tasks{}
		}
		u.Tasks[req.TaskID] = state
		claimed = true
		return &model.ActivityLog{
			TeleID:    u.TeleID,
			LogType:   "task/claim",
			Details:   model.JSONMap{"task_id": req.TaskID, "rewards": rewards},
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		return err
	}
	if claimed {
		call.Reply(call.ReturnAction, map[string]any{"task_id": req.TaskID, "created_at": now})
	}
	return nil
}
