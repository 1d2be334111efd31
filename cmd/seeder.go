package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/auth"
	authpostgres "github.com/frahmantamala/ticket-payments/internal/auth/postgres"
	"github.com/frahmantamala/ticket-payments/internal/core/database"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/ticket"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/user"
	"github.com/frahmantamala/ticket-payments/pkg/logger"
)

var (
	clearData    bool
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with an admin, a coordinator, an individual registrant and unpaid tickets for development.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		initLogger(cfg)

		db, err := initDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		defer db.Close()

		gormDB, err := database.OpenGorm(db.DB)
		if err != nil {
			return err
		}

		return seed(cmd.Context(), gormDB, cfg.Security.BCryptCost)
	},
}

type seedUser struct {
	Email    string
	FullName string
	Phone    string
	Role     internal.Role
	Province string
}

var seedUsers = []seedUser{
	{Email: "admin@tickets.local", FullName: "Payments Admin", Phone: "+2348000000001", Role: internal.RoleAdmin},
	{Email: "lagos.coordinator@tickets.local", FullName: "Bola Adeyemi", Phone: "+2348000000002", Role: internal.RoleCoordinator, Province: "Lagos"},
	{Email: "ada@tickets.local", FullName: "Ada Obi", Phone: "+2348000000003", Role: internal.RoleIndividual, Province: "Lagos"},
}

func seed(ctx context.Context, db *gorm.DB, bcryptCost int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lg := logger.LoggerWrapper()

	if clearData {
		// Payments reference tickets, so they go first.
		for _, model := range []interface{}{&payment.TransactionLog{}, &payment.Payment{}, &ticket.Ticket{}} {
			if err := db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", model, err)
			}
		}
		lg.Info("cleared payments and tickets")
	}

	hash, err := auth.HashPassword(seedPassword, bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	users := authpostgres.NewUserRepository(db)
	registrants := make(map[internal.Role]*user.User, len(seedUsers))
	for _, su := range seedUsers {
		u := &user.User{
			Email:        su.Email,
			FullName:     su.FullName,
			Phone:        su.Phone,
			PasswordHash: hash,
			Role:         string(su.Role),
			Province:     su.Province,
			IsActive:     true,
		}
		if err := users.Upsert(ctx, u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", su.Email, err)
		}
		stored, err := users.GetByEmail(ctx, su.Email)
		if err != nil {
			return fmt.Errorf("failed to reload user %s: %w", su.Email, err)
		}
		registrants[su.Role] = stored
		lg.Info("seeded user", "email", su.Email, "role", su.Role)
	}

	coordinator := registrants[internal.RoleCoordinator]
	individual := registrants[internal.RoleIndividual]
	tickets := []ticket.Ticket{
		{TicketCode: "TKT-LAG-0001", FullName: "Chinedu Okafor", Email: "chinedu@example.com", Phone: "+2348010000001", Province: "Lagos", RegisteredBy: &coordinator.ID},
		{TicketCode: "TKT-LAG-0002", FullName: "Funmi Bello", Email: "funmi@example.com", Phone: "+2348010000002", Province: "Lagos", RegisteredBy: &coordinator.ID},
		{TicketCode: "TKT-LAG-0003", FullName: "Tunde Bakare", Email: "tunde@example.com", Phone: "+2348010000003", Province: "Lagos", RegisteredBy: &coordinator.ID},
		{TicketCode: "TKT-LAG-0004", FullName: "Ada Obi", Email: individual.Email, Phone: individual.Phone, Province: "Lagos", RegisteredBy: &individual.ID},
		{TicketCode: "TKT-KAN-0001", FullName: "Musa Ibrahim", Email: "musa@example.com", Phone: "+2348010000005", Province: "Kano", RegisteredBy: &individual.ID},
	}
	for i := range tickets {
		tickets[i].Status = ticket.StatusPending
		tickets[i].PaymentStatus = ticket.PaymentStatusUnpaid
	}

	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticket_code"}},
		DoNothing: true,
	}).Create(&tickets)
	if res.Error != nil {
		return fmt.Errorf("failed to seed tickets: %w", res.Error)
	}

	lg.Info("seed complete", "users", len(seedUsers), "tickets_created", res.RowsAffected)
	return nil
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing payments and tickets before seeding")
	seedCmd.Flags().StringVar(&seedPassword, "password", "password", "Password set on every seeded user")
}
