// Package config loads the server's command-line configuration surface,
// mirroring the reference main()'s parameter list with flag-based defaults
// in place of hardcoded constants.
package config

import (
	"flag"
	"fmt"
)

// Config holds every knob the reactor, dbpool, logger, and resource layer
// need at startup.
type Config struct {
	Port       int
	Trigger    int // 0-3, see reactor.TriggerMode
	TimeoutMS  int
	OpenLinger bool

	SQLHost     string
	SQLPort     int
	SQLUser     string
	SQLPwd      string
	DBName      string
	ConnPoolNum int

	ThreadNum int

	OpenLog      bool
	LogLevel     int
	LogQueueSize int
	LogDir       string

	ResourcesDir string
}

// New parses flags into a Config, defaulting to the reference main()'s
// parameter values (port 1025, trigMode 3, timeoutMS 60000, ...). It fails
// fast, mirroring the reference InitSocket_'s port-range guard, rather than
// letting an out-of-range port reach unix.Bind.
func New() (*Config, error) {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 1025, "listen port")
	flag.IntVar(&cfg.Trigger, "trigmode", 3, "trigger mode 0-3 (listen/conn edge combinations)")
	flag.IntVar(&cfg.TimeoutMS, "timeoutms", 60000, "idle connection timeout in milliseconds, <=0 disables eviction")
	flag.BoolVar(&cfg.OpenLinger, "openlinger", false, "close sockets with SO_LINGER enabled")

	flag.StringVar(&cfg.SQLHost, "sqlhost", "localhost", "MySQL host")
	flag.IntVar(&cfg.SQLPort, "sqlport", 3306, "MySQL port")
	flag.StringVar(&cfg.SQLUser, "sqluser", "root", "MySQL user")
	flag.StringVar(&cfg.SQLPwd, "sqlpwd", "root", "MySQL password")
	flag.StringVar(&cfg.DBName, "dbname", "yourdb", "MySQL database name")
	flag.IntVar(&cfg.ConnPoolNum, "connpoolnum", 12, "DB connection pool size")

	flag.IntVar(&cfg.ThreadNum, "threadnum", 6, "worker pool size")

	flag.BoolVar(&cfg.OpenLog, "openlog", true, "enable logging")
	flag.IntVar(&cfg.LogLevel, "loglevel", 3, "log level 0-3 (debug..error)")
	flag.IntVar(&cfg.LogQueueSize, "logquesize", 1024, "async log queue capacity, 0 runs synchronously")
	flag.StringVar(&cfg.LogDir, "logdir", "./log", "log file directory")

	flag.StringVar(&cfg.ResourcesDir, "resourcesdir", "./resources", "static resources directory")

	flag.Parse()

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: port %d out of range [1024, 65535]", cfg.Port)
	}

	return cfg, nil
}

// DSN formats the MySQL data source name for database/sql.Open("mysql", ...).
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
		c.SQLUser, c.SQLPwd, c.SQLHost, c.SQLPort, c.DBName)
}
