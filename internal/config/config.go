package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strings"

    glog "github.com/labstack/gommon/log"
)

// DBConfig holds the MySQL connection settings shared by every binary.
type DBConfig struct {
    User        string // database username
    Pass        string // database password (optional)
    Host        string // database host address
    Port        string // database port number
    Name        string // database name
    AutoMigrate bool   // apply the embedded schema on startup
}

// Config holds the runtime configuration of the HTTP server.  Each field
// corresponds to an environment variable.
type Config struct {
    Env             string // application environment (e.g. "dev", "prod")
    Port            string // HTTP port to listen on
    DB              DBConfig
    JWTSecret       string // secret used to verify identity assertions
    ServiceKey      string // shared key for service-to-service pass validation
    QueueServiceURL string // remote admission service; empty means in-process
    LogLevel        glog.Lvl
}

// Load reads the server configuration.  Required variables are enforced by
// must() and missing values cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:             must("APP_ENV"),  // environment (dev/test/prod)
        Port:            must("APP_PORT"), // port to bind the HTTP server
        DB:              LoadDBConfig(),
        JWTSecret:       must("JWT_SECRET"),
        ServiceKey:      must("INTERNAL_SERVICE_KEY"),
        QueueServiceURL: os.Getenv("QUEUE_SERVICE_URL"),
        LogLevel:        ParseLogLevel(os.Getenv("LOG_LEVEL")),
    }
}

// LoadDBConfig reads the database settings; the payment worker uses it on its own.
func LoadDBConfig() DBConfig {
    return DBConfig{
        User:        must("DB_USER"),
        Pass:        os.Getenv("DB_PASS"), // empty allowed
        Host:        must("DB_HOST"),
        Port:        must("DB_PORT"),
        Name:        must("DB_NAME"),
        AutoMigrate: envBool("DB_AUTO_MIGRATE", false),
    }
}

// ParseLogLevel maps LOG_LEVEL onto gommon levels, defaulting to INFO.
func ParseLogLevel(s string) glog.Lvl {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return glog.DEBUG
    case "warn", "warning":
        return glog.WARN
    case "error":
        return glog.ERROR
    case "off":
        return glog.OFF
    }
    return glog.INFO
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}
