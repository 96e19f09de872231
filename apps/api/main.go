package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	echoapi "github.com/lim5max/checklytool/apps/api/echo"
	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
	"github.com/lim5max/checklytool/core/billing"
	"github.com/lim5max/checklytool/core/user"
	emailsvc "github.com/lim5max/checklytool/services/email"
	"github.com/lim5max/checklytool/services/grading/openrouter"
	logsvc "github.com/lim5max/checklytool/services/logger"
	"github.com/lim5max/checklytool/services/metrics"
	"github.com/lim5max/checklytool/services/payment/tbank"
	"github.com/lim5max/checklytool/services/scheduler"
	"github.com/lim5max/checklytool/storage/database"
	sqlxrepos "github.com/lim5max/checklytool/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	gateway, err := tbank.NewClientFromConfig(conf.TBank)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up payment gateway: %v", err), err)
	}

	var grader assessment.Grader
	if conf.OpenRouter.APIKey != "" {
		client, err := openrouter.NewClient(conf.OpenRouter, nil)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up grader: %v", err), err)
		}
		grader = client
	} else {
		logger.Warn("OpenRouter API key not set: image recognition and essay grading are disabled")
	}

	mtr := metrics.New()
	tx := core.NewTransactor(db)
	usrRepo := sqlxrepos.NewUserRepository(db)

	usrSvc := user.NewService(tx, usrRepo, mailSvc, conf)
	billingSvc := billing.NewService(billing.ServiceDeps{
		Tx:       tx,
		Repo:     sqlxrepos.NewBillingRepository(db),
		UserRepo: usrRepo,
		Gateway:  gateway,
		MailSvc:  mailSvc,
		Logger:   logger,
		Recorder: mtr,
		Conf:     conf,
	})

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	assessment.InitValidators(validate, translator)

	assessmentSvc := assessment.NewService(assessment.ServiceDeps{
		Tx:       tx,
		Repo:     sqlxrepos.NewAssessmentRepository(db),
		Credits:  billingSvc,
		Grader:   grader,
		Validate: validate,
		Logger:   logger,
		Recorder: mtr,
	})

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(conf, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - prometheus collectors.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", mtr.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Renewal Scheduler

	sched := scheduler.New(billingSvc, logger)
	if err = sched.ScheduleRenewals(conf.Billing.RenewalSpec); err != nil {
		logger.Fatal(fmt.Sprintf("scheduling renewals: %v", err), err)
	}
	sched.Start()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Validate:      validate,
			Translator:    translator,
			UserSvc:       usrSvc,
			BillingSvc:    billingSvc,
			AssessmentSvc: assessmentSvc,
			Middlewares:   []echo.MiddlewareFunc{mtr.Middleware()},
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}

	// give outstanding requests and renewals a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	sched.Stop(ctx)

	// asking listener to shutdown and shed load
	if err = server.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

		if err = server.Close(); err != nil {
			logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		return nil, err
	}
	return db, nil
}
