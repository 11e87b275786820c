package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	gonotify "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/chartreport/app/browser"
	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/conditions"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/jobs"
	"github.com/umputun/chartreport/app/notify"
	"github.com/umputun/chartreport/app/report"
	"github.com/umputun/chartreport/app/scanner"
	"github.com/umputun/chartreport/app/schedule"
	"github.com/umputun/chartreport/app/store"
	"github.com/umputun/chartreport/app/web"
)

var opts struct {
	DB  string `long:"db" env:"CHARTREPORT_DB" default:"var/chartreport.db" description:"sqlite database file"`
	Dbg bool   `long:"dbg" env:"CHARTREPORT_DEBUG" description:"debug mode"`

	Web struct {
		Address        string        `long:"address" env:"ADDRESS" default:":8080" description:"web server listen address"`
		BaseURL        string        `long:"base-url" env:"BASE_URL" default:"http://localhost:8080" description:"public url used in notification links"`
		LoginTTL       time.Duration `long:"login-ttl" env:"LOGIN_TTL" default:"24h" description:"session lifetime"`
		LoginRate      float64       `long:"login-rate" env:"LOGIN_RATE" default:"1" description:"login attempts per second from one ip"`
		NoRegistration bool          `long:"no-registration" env:"NO_REGISTRATION" description:"disable self registration"`
	} `group:"web" namespace:"web" env-namespace:"CHARTREPORT_WEB"`

	Browser struct {
		Engine     string        `long:"engine" env:"ENGINE" choice:"chromedp" choice:"playwright" default:"chromedp" description:"browser automation engine"`
		Headless   bool          `long:"headless" env:"HEADLESS" description:"force headless mode"`
		ExecPath   string        `long:"exec" env:"EXEC" description:"browser binary"`
		UserAgent  string        `long:"user-agent" env:"USER_AGENT" description:"browser user agent"`
		NavTimeout time.Duration `long:"nav-timeout" env:"NAV_TIMEOUT" default:"60s" description:"page navigation timeout"`
		Capture    string        `long:"capture" env:"CAPTURE" choice:"embedded" choice:"screenshot" default:"embedded" description:"chart capture mode"`
	} `group:"browser" namespace:"browser" env-namespace:"CHARTREPORT_BROWSER"`

	Jobs struct {
		Concurrency int           `long:"concurrency" env:"CONCURRENCY" default:"2" description:"max jobs running at once"`
		Retention   time.Duration `long:"retention" env:"RETENTION" default:"1h" description:"how long finished reports are kept"`
		Attempts    int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"browser launch attempts after a crash"`
		RetryDelay  time.Duration `long:"retry-delay" env:"RETRY_DELAY" default:"5s" description:"delay between browser launch attempts"`
		MaxPages    int           `long:"max-pages" env:"MAX_PAGES" default:"50" description:"max result pages per scan"`
	} `group:"jobs" namespace:"jobs" env-namespace:"CHARTREPORT_JOBS"`

	Guard struct {
		CPUBelow      int           `long:"cpu-below" env:"CPU_BELOW" description:"postpone browser launch while cpu usage is above, percent"`
		MemoryBelow   int           `long:"mem-below" env:"MEM_BELOW" description:"postpone browser launch while memory usage is above, percent"`
		LoadAvgBelow  float64       `long:"load-below" env:"LOAD_BELOW" description:"postpone browser launch while load average is above"`
		DiskFreeAbove int           `long:"disk-free" env:"DISK_FREE" description:"postpone browser launch while free disk is below, percent"`
		DiskPath      string        `long:"disk-path" env:"DISK_PATH" default:"/" description:"path checked for free disk"`
		CheckInterval time.Duration `long:"interval" env:"INTERVAL" default:"5s" description:"re-check interval"`
		MaxPostpone   time.Duration `long:"max-postpone" env:"MAX_POSTPONE" default:"5m" description:"launch anyway after this delay"`
	} `group:"guard" namespace:"guard" env-namespace:"CHARTREPORT_GUARD"`

	Notify struct {
		SMTPHost         string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host, empty disables email"`
		SMTPPort         int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername     string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword     string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS          bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut      time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		From             string        `long:"from" env:"FROM" description:"SMTP from email"`
		HostName         string        `long:"host" env:"HOST" description:"host name used in default from email"`
		Subject          string        `long:"subject" env:"SUBJECT" default:"Chart report ready" description:"email subject"`
		EmailTemplate    string        `long:"email-template" env:"EMAIL_TEMPLATE" description:"custom email template file"`
		TelegramTemplate string        `long:"telegram-template" env:"TELEGRAM_TEMPLATE" description:"custom telegram template file"`
		TelegramTimeout  time.Duration `long:"telegram-timeout" env:"TELEGRAM_TIMEOUT" default:"10s" description:"telegram api timeout"`
	} `group:"notify" namespace:"notify" env-namespace:"CHARTREPORT_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"var/chartreport.log" description:"log file"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size, MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files, days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"CHARTREPORT_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("chartreport %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(opts.DB), 0o750); err != nil {
		return fmt.Errorf("failed to make db directory: %w", err)
	}
	st, err := store.New(opts.DB)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	launcher, err := makeLauncher()
	if err != nil {
		return err
	}
	capture, err := enums.ParseCapture(opts.Browser.Capture)
	if err != nil {
		return err
	}

	pg := scanner.New()
	pg.MaxPages = opts.Jobs.MaxPages
	mgr := jobs.New(ctx, jobs.Params{
		Launcher:    launcher,
		Scanner:     pg,
		Fetcher:     chart.NewFetcher(),
		Assembler:   &report.Assembler{Title: "Charts", Creator: "chartreport " + revision},
		Repeater:    repeater.New(&strategy.FixedDelay{Repeats: opts.Jobs.Attempts, Delay: opts.Jobs.RetryDelay}),
		Guard:       makeGuard(),
		Concurrency: opts.Jobs.Concurrency,
		Retention:   opts.Jobs.Retention,
	})

	sched := schedule.New(cron.New(), st, mgr)
	sched.Capture = capture

	srv, err := web.New(web.Config{
		Store:               st,
		Jobs:                mgr,
		Notifier:            makeNotifyService(),
		Scheduler:           sched,
		Version:             revision,
		LoginTTL:            opts.Web.LoginTTL,
		LoginRate:           opts.Web.LoginRate,
		DisableRegistration: opts.Web.NoRegistration,
		Defaults:            chart.Settings{Capture: capture},
	})
	if err != nil {
		return err
	}
	mgr.AddHandler(srv)

	go sched.Do(ctx)
	err = srv.Run(ctx, opts.Web.Address)
	mgr.Wait()
	log.Printf("[INFO] chartreport terminated")
	return err
}

func makeLauncher() (browser.Launcher, error) {
	engine, err := enums.ParseEngine(opts.Browser.Engine)
	if err != nil {
		return nil, err
	}
	headless := browser.DetectHeadless(opts.Browser.Headless)
	log.Printf("[INFO] browser engine %s, headless: %v", engine, headless)
	return browser.NewLauncher(browser.Config{
		Engine:     engine,
		Headless:   headless,
		ExecPath:   opts.Browser.ExecPath,
		UserAgent:  opts.Browser.UserAgent,
		NavTimeout: opts.Browser.NavTimeout,
	})
}

// makeGuard returns nil if no resource threshold is set
func makeGuard() jobs.Guard {
	g := conditions.NewGuard(conditions.Config{
		CPUBelow:      opts.Guard.CPUBelow,
		MemoryBelow:   opts.Guard.MemoryBelow,
		LoadAvgBelow:  opts.Guard.LoadAvgBelow,
		DiskFreeAbove: opts.Guard.DiskFreeAbove,
		DiskFreePath:  opts.Guard.DiskPath,
		CheckInterval: opts.Guard.CheckInterval,
		MaxPostpone:   opts.Guard.MaxPostpone,
	})
	if !g.Enabled() {
		return nil
	}
	return g
}

func makeNotifyService() *notify.Service {
	from := opts.Notify.From
	if from == "" {
		from = "chartreport@" + makeHostName()
	}
	return notify.NewService(
		notify.Params{
			BaseURL:          trimBaseURL(opts.Web.BaseURL),
			FromEmail:        from,
			Subject:          opts.Notify.Subject,
			EmailTemplate:    opts.Notify.EmailTemplate,
			TelegramTemplate: opts.Notify.TelegramTemplate,
		},
		notify.SendersParams{
			SMTP: gonotify.SMTPParams{
				Host:     opts.Notify.SMTPHost,
				Port:     opts.Notify.SMTPPort,
				TLS:      opts.Notify.SMTPTLS,
				Username: opts.Notify.SMTPUsername,
				Password: opts.Notify.SMTPPassword,
				TimeOut:  opts.Notify.SMTPTimeOut,
			},
			TelegramTimeout: opts.Notify.TelegramTimeout,
		},
	)
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

// trimBaseURL drops trailing slashes, download links are appended to it
func trimBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// setupLogs configures lgr and returns the writer logs go to
func setupLogs() io.Writer {
	out := io.Writer(os.Stdout)
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	logOpts := []log.Option{log.Msec, log.LevelBraces, log.Out(out), log.Err(out)}
	if secrets := logSecrets(); len(secrets) > 0 {
		logOpts = append(logOpts, log.Secret(secrets...))
	}
	if opts.Dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFile, log.CallerFunc)
	}
	log.Setup(logOpts...)
	return out
}

// logSecrets lists configured credentials masked in logs
func logSecrets() []string {
	var res []string
	for _, s := range []string{opts.Notify.SMTPPassword, opts.Notify.SMTPUsername} {
		if s != "" {
			res = append(res, s)
		}
	}
	return res
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %s received, shutting down", sig)
			cancel() // terminate on SIGTERM and SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
