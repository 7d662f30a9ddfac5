package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Dan9191/telehealth-credits/internal/config"
	"github.com/Dan9191/telehealth-credits/internal/credits"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/Dan9191/telehealth-credits/internal/service"
	"github.com/Dan9191/telehealth-credits/internal/statement"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app holds what every subcommand needs once the root has connected.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	repo   *repository.Repository
	ledger *credits.Ledger
	svc    *service.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Inspect and operate the telehealth credit ledger",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.connect(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.repo != nil {
				return a.repo.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().String("driver", "", "database driver (postgres or sqlite); defaults to DB_DRIVER")
	root.PersistentFlags().String("conn", "", "database connection string; defaults to DB_CONN")
	root.PersistentFlags().String("log-level", "warn", "log level")

	root.AddCommand(
		a.migrateCmd(),
		a.balanceCmd(),
		a.allocateCmd(),
		a.deductCmd(),
		a.sweepCmd(),
		a.reconcileCmd(),
		a.statementCmd(),
		a.planCmd(),
		a.promoteCmd(),
	)
	return root
}

func (a *app) connect(cmd *cobra.Command) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.DBDriver = driver
	}
	if conn, _ := cmd.Flags().GetString("conn"); conn != "" {
		cfg.DBConn = conn
	}

	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid log level %q", levelName)
	}
	log.SetLevel(level)

	repo, err := repository.Open(cmd.Context(), cfg.DBDriver, cfg.DBConn)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.repo = cfg, log, repo
	a.ledger = credits.New(repo, log, credits.WithLocation(cfg.Location))
	a.svc = service.NewService(repo, a.ledger, log, cfg)
	return nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", arg)
	}
	return id, nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance ACCOUNT_ID",
		Short: "Show an account balance and its latest transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			acc, err := a.repo.GetAccount(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("account %d: %w", id, err)
			}
			txs, err := a.repo.RecentTransactions(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account %d (%s, %s) balance %d\n", acc.ID, acc.Email, acc.Role, acc.Credits)
			for _, t := range txs {
				fmt.Fprintf(out, "  %s  %-10s %+d %s\n", t.CreatedAt.Format(time.RFC3339), t.Kind, t.Amount, t.PlanTag)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "number of transactions to show")
	return cmd
}

func (a *app) allocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocate ACCOUNT_ID",
		Short: "Grant this month's plan credits if they are still due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			acc, err := a.repo.GetAccount(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("account %d: %w", id, err)
			}
			plan, _ := cmd.Flags().GetString("plan")
			if plan == "" {
				plan = acc.Plan
			}
			res := a.ledger.AllocateIfDue(cmd.Context(), acc, plan)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: balance %d\n", res.Status, res.Account.Credits)
			if res.Status == credits.StatusFailed {
				return fmt.Errorf("allocation failed, see logs")
			}
			return nil
		},
	}
	cmd.Flags().String("plan", "", "subscription claim to allocate for; defaults to the stored plan")
	return cmd
}

func (a *app) deductCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deduct PATIENT_ID DOCTOR_ID",
		Short: "Move appointment credits from a patient to a doctor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			consumer, err := parseID(args[0])
			if err != nil {
				return err
			}
			provider, err := parseID(args[1])
			if err != nil {
				return err
			}
			cost, _ := cmd.Flags().GetInt64("cost")
			if cost == 0 {
				cost = a.cfg.AppointmentCost
			}
			res := a.ledger.Deduct(cmd.Context(), consumer, provider, cost)
			if !res.Success {
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %d credits: patient balance %d, doctor balance %d\n",
				cost, res.Account.Credits, res.Provider.Credits)
			return nil
		},
	}
	cmd.Flags().Int64("cost", 0, "credits to move; defaults to APPOINTMENT_COST")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Grant due allocations to every patient with a plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := a.ledger.AllocateAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, allocated %d, failed %d\n", sum.Checked, sum.Allocated, sum.Failed)
			return nil
		},
	}
}

func (a *app) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile ACCOUNT_ID",
		Short: "Check that a balance matches its transaction history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, err := a.ledger.Reconcile(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %d: balance %d, ledger %d, drift %d\n",
				rec.AccountID, rec.Balance, rec.LedgerSum, rec.Drift)
			if !rec.Consistent() {
				return fmt.Errorf("account %d is out of balance by %d", id, rec.Drift)
			}
			return nil
		},
	}
}

func (a *app) statementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement ACCOUNT_ID",
		Short: "Print a monthly XML statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			month, _ := cmd.Flags().GetString("month")
			if month == "" {
				month = models.PeriodOf(time.Now().In(a.cfg.Location))
			}
			return statement.NewBuilder(a.repo, a.cfg.Location).Write(cmd.Context(), cmd.OutOrStdout(), id, month)
		},
	}
	cmd.Flags().String("month", "", "statement month as YYYY-MM; defaults to the current month")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan ACCOUNT_ID PLAN",
		Short: "Assign a subscription plan to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			acc, err := a.svc.ChangePlan(cmd.Context(), id, args[1])
			if err != nil {
				return fmt.Errorf("account %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %d is now on %s\n", acc.ID, acc.Plan)
			return nil
		},
	}
}

func (a *app) promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote ACCOUNT_ID",
		Short: "Give an account the ADMIN role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			acc, err := a.repo.GetAccount(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("account %d: %w", id, err)
			}
			if acc.Role == models.RoleAdmin {
				fmt.Fprintf(cmd.OutOrStdout(), "account %d is already an admin\n", id)
				return nil
			}
			if !acc.Active {
				return fmt.Errorf("account %d is deactivated", id)
			}
			acc.Role = models.RoleAdmin
			acc.VerificationStatus = ""
			if err := a.repo.UpdateProfile(cmd.Context(), acc); err != nil {
				return err
			}
			a.log.WithField("account_id", id).Info("Account promoted to admin")
			fmt.Fprintf(cmd.OutOrStdout(), "account %d (%s) is now an admin\n", id, acc.Email)
			return nil
		},
	}
}
