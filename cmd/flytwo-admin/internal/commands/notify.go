package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
	"github.com/cuongbtq/flytwo-backend/internal/storage"
	"github.com/cuongbtq/flytwo-backend/shared/redis"
)

type NotifyCmd struct {
	System NotifySystemCmd `cmd:"" help:"Broadcast a notification to every user."`
}

type NotifySystemCmd struct {
	Title    string `help:"Notification title." required:""`
	Message  string `help:"Notification body." required:""`
	Category string `help:"Optional category, e.g. Maintenance."`
	Severity int    `help:"Optional severity (0 info, 1 warning, 2 error); negative leaves it unset." default:"-1"`
	As       string `help:"User id recorded as the creator." default:"flytwo-admin"`
}

type notificationCreator interface {
	Create(ctx context.Context, req notification.CreateRequest, creatorUserID string, creatorCompanyID *uuid.UUID) (*domain.Notification, error)
}

func (cmd *NotifySystemCmd) Run(ctx context.Context, globals *Globals) error {
	e, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Addr:     e.cfg.Redis.Addr,
		Password: e.cfg.Redis.Password,
		DB:       e.cfg.Redis.DB,
	}, e.logger.Component("redis"))
	if err != nil {
		return err
	}
	defer redisClient.Close()

	engine := notification.NewEngine(
		storage.NewStorage(e.db),
		realtime.NewRedisPusher(redisClient, e.cfg.Redis.RealtimeChannelPrefix),
		e.logger.Component("notification"),
	)
	return cmd.send(ctx, engine, globals.out())
}

func (cmd *NotifySystemCmd) send(ctx context.Context, creator notificationCreator, out io.Writer) error {
	req := notification.CreateRequest{
		Scope:   domain.ScopeSystem,
		Title:   cmd.Title,
		Message: cmd.Message,
	}
	if cmd.Severity >= 0 {
		req.Severity = &cmd.Severity
	}
	if cmd.Category != "" {
		req.Category = &cmd.Category
	}

	n, err := creator.Create(ctx, req, cmd.As, nil)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	fmt.Fprintf(out, "notification %s sent to all users\n", n.ID)
	return nil
}
