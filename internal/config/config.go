package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/latticefort/dp-query-service/internal/platform/logger"
	"github.com/latticefort/dp-query-service/internal/utils"
)

// TimeAttackMethod selects the Timing Shaper's post-processing mode.
type TimeAttackMethod string

const (
	TimeAttackJitter TimeAttackMethod = "jitter"
	TimeAttackStall  TimeAttackMethod = "stall"
)

// AdminDBType selects the Administration Store backend.
type AdminDBType string

const (
	AdminDBPostgres AdminDBType = "postgres"
	AdminDBYAML     AdminDBType = "yaml"
)

// ServerConfig covers server.* keys.
type ServerConfig struct {
	HostIP             string
	HostPort           int
	Workers            int
	LogLevel           string
	TimeAttackMethod   TimeAttackMethod
	TimeAttackMagnitude time.Duration
	RequestTimeout     time.Duration
}

// AdminDatabaseConfig covers admin_database.* keys.
type AdminDatabaseConfig struct {
	DBType   AdminDBType
	YAMLPath string
}

// DPLibrariesConfig covers dp_libraries.* feature flags.
type DPLibrariesConfig struct {
	OpenDPContrib       bool
	OpenDPFloatingPoint bool
}

// TaskBrokerKind selects between the in-process worker pool and the
// Temporal-backed durable broker.
type TaskBrokerKind string

const (
	TaskBrokerLocal    TaskBrokerKind = "local"
	TaskBrokerTemporal TaskBrokerKind = "temporal"
)

// TaskBrokerConfig covers task_broker.* keys.
type TaskBrokerConfig struct {
	Kind    TaskBrokerKind
	Workers int
}

// RedisConfig covers redis.* keys backing the backpressure Gate; a
// blank Addr degrades the Gate to its in-process channel mode.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config is the layered config object every constructor in this
// service takes explicitly; there is no process-wide mutable config
// singleton (the DBR is the sole startup-built exception, per its own
// package).
type Config struct {
	Server         ServerConfig
	AdminDatabase  AdminDatabaseConfig
	DPLibraries    DPLibrariesConfig
	TaskBroker     TaskBrokerConfig
	Redis          RedisConfig
	DevelopMode    bool
	SubmitLimit    int
	BacklogHighWaterMark int
	CASRetryLimit  int
	DCCCapacity    int
	DCCMaxBytes    int64
	JWTSecretKey   string
}

// configFile is the shape of an optional CONFIG_PATH YAML overlay.
// Values present here are applied before the environment layer so an
// environment variable always wins.
type configFile struct {
	Server struct {
		HostIP     string `yaml:"host_ip"`
		HostPort   int    `yaml:"host_port"`
		Workers    int    `yaml:"workers"`
		LogLevel   string `yaml:"log_level"`
		TimeAttack struct {
			Method    string  `yaml:"method"`
			Magnitude float64 `yaml:"magnitude"`
		} `yaml:"time_attack"`
	} `yaml:"server"`
	AdminDatabase struct {
		DBType   string `yaml:"db_type"`
		YAMLPath string `yaml:"yaml_path"`
	} `yaml:"admin_database"`
	DPLibraries struct {
		OpenDP struct {
			Contrib       bool `yaml:"contrib"`
			FloatingPoint bool `yaml:"floating_point"`
		} `yaml:"opendp"`
	} `yaml:"dp_libraries"`
	DevelopMode bool `yaml:"develop_mode"`
	SubmitLimit int  `yaml:"submit_limit"`
}

func loadConfigFileOverlay(path string, log *logger.Logger) *configFile {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("could not read CONFIG_PATH overlay", "path", path, "error", err.Error())
		return nil
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		log.Warn("could not parse CONFIG_PATH overlay", "path", path, "error", err.Error())
		return nil
	}
	return &cf
}

// LoadConfig builds a Config from an optional YAML overlay followed by
// environment variables, with env vars always winning so a deployment
// can override a checked-in config file without editing it.
func LoadConfig(log *logger.Logger) Config {
	cf := loadConfigFileOverlay(os.Getenv("CONFIG_PATH"), log)

	hostIP := "0.0.0.0"
	hostPort := 8080
	workers := 4
	logLevel := "info"
	timeAttackMethod := string(TimeAttackJitter)
	timeAttackMagnitudeSeconds := 0.0
	adminDBType := string(AdminDBPostgres)
	yamlPath := "admin.yaml"
	developMode := false
	submitLimit := 10
	openDPContrib := false
	openDPFloatingPoint := false

	if cf != nil {
		if cf.Server.HostIP != "" {
			hostIP = cf.Server.HostIP
		}
		if cf.Server.HostPort != 0 {
			hostPort = cf.Server.HostPort
		}
		if cf.Server.Workers != 0 {
			workers = cf.Server.Workers
		}
		if cf.Server.LogLevel != "" {
			logLevel = cf.Server.LogLevel
		}
		if cf.Server.TimeAttack.Method != "" {
			timeAttackMethod = cf.Server.TimeAttack.Method
		}
		if cf.Server.TimeAttack.Magnitude != 0 {
			timeAttackMagnitudeSeconds = cf.Server.TimeAttack.Magnitude
		}
		if cf.AdminDatabase.DBType != "" {
			adminDBType = cf.AdminDatabase.DBType
		}
		if cf.AdminDatabase.YAMLPath != "" {
			yamlPath = cf.AdminDatabase.YAMLPath
		}
		if cf.SubmitLimit != 0 {
			submitLimit = cf.SubmitLimit
		}
		developMode = cf.DevelopMode
		openDPContrib = cf.DPLibraries.OpenDP.Contrib
		openDPFloatingPoint = cf.DPLibraries.OpenDP.FloatingPoint
	}

	hostIP = utils.GetEnv("SERVER_HOST_IP", hostIP, log)
	hostPort = utils.GetEnvAsInt("SERVER_HOST_PORT", hostPort, log)
	workers = utils.GetEnvAsInt("SERVER_WORKERS", workers, log)
	logLevel = utils.GetEnv("SERVER_LOG_LEVEL", logLevel, log)
	timeAttackMethod = utils.GetEnv("SERVER_TIME_ATTACK_METHOD", timeAttackMethod, log)
	timeAttackMagnitudeSeconds = utils.GetEnvAsFloat("SERVER_TIME_ATTACK_MAGNITUDE", timeAttackMagnitudeSeconds, log)
	requestTimeout := utils.GetEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second, log)
	adminDBType = utils.GetEnv("ADMIN_DATABASE_DB_TYPE", adminDBType, log)
	yamlPath = utils.GetEnv("ADMIN_DATABASE_YAML_PATH", yamlPath, log)
	developMode = utils.GetEnvAsBool("DEVELOP_MODE", developMode, log)
	submitLimit = utils.GetEnvAsInt("SUBMIT_LIMIT", submitLimit, log)
	backlogHighWaterMark := utils.GetEnvAsInt("BACKLOG_HIGH_WATER_MARK", 100, log)
	casRetryLimit := utils.GetEnvAsInt("CAS_RETRY_LIMIT", 5, log)
	dccCapacity := utils.GetEnvAsInt("DCC_CAPACITY", 32, log)
	dccMaxBytesInt := utils.GetEnvAsInt("DCC_MAX_BYTES", 256*1024*1024, log)
	openDPContrib = utils.GetEnvAsBool("DP_LIBRARIES_OPENDP_CONTRIB", openDPContrib, log)
	openDPFloatingPoint = utils.GetEnvAsBool("DP_LIBRARIES_OPENDP_FLOATING_POINT", openDPFloatingPoint, log)
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	taskBrokerKind := utils.GetEnv("TASK_BROKER_KIND", string(TaskBrokerLocal), log)
	taskBrokerWorkers := utils.GetEnvAsInt("TASK_BROKER_WORKERS", workers, log)
	redisAddr := utils.GetEnv("REDIS_ADDR", "", log)
	redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
	redisDB := utils.GetEnvAsInt("REDIS_DB", 0, log)

	return Config{
		Server: ServerConfig{
			HostIP:              hostIP,
			HostPort:            hostPort,
			Workers:             workers,
			LogLevel:            logLevel,
			TimeAttackMethod:    TimeAttackMethod(timeAttackMethod),
			TimeAttackMagnitude: time.Duration(timeAttackMagnitudeSeconds * float64(time.Second)),
			RequestTimeout:      requestTimeout,
		},
		AdminDatabase: AdminDatabaseConfig{
			DBType:   AdminDBType(adminDBType),
			YAMLPath: yamlPath,
		},
		DPLibraries: DPLibrariesConfig{
			OpenDPContrib:       openDPContrib,
			OpenDPFloatingPoint: openDPFloatingPoint,
		},
		TaskBroker: TaskBrokerConfig{
			Kind:    TaskBrokerKind(taskBrokerKind),
			Workers: taskBrokerWorkers,
		},
		Redis: RedisConfig{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
		DevelopMode:          developMode,
		SubmitLimit:          submitLimit,
		BacklogHighWaterMark: backlogHighWaterMark,
		CASRetryLimit:        casRetryLimit,
		DCCCapacity:          dccCapacity,
		DCCMaxBytes:          int64(dccMaxBytesInt),
		JWTSecretKey:         jwtSecretKey,
	}
}
