package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robot-service/internal/config"
	"robot-service/internal/core"
	"robot-service/internal/hardware"
	"robot-service/internal/logger"
	"robot-service/internal/messaging"
)

func main() {
	var serviceLogLevel int
	var redisHost string
	var redisPort int
	var tickMs int
	var simulate bool
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")
	flag.IntVar(&tickMs, "tick", 100, "Control loop interval in milliseconds")
	flag.BoolVar(&simulate, "sim", false, "Use simulated hardware instead of GPIO")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting robot service...")

	cfg := config.Default()
	cfg.RedisHost = redisHost
	cfg.RedisPort = redisPort
	cfg.TickInterval = time.Duration(tickMs) * time.Millisecond

	var io core.HardwareIO
	if simulate {
		io = hardware.NewSimHardwareIO(l)
	} else {
		io = hardware.NewGpioHardwareIO(l)
	}

	redis := messaging.NewRedisClient(cfg.RedisHost, cfg.RedisPort, l, messaging.Callbacks{})

	system, err := core.NewRobotSystem(cfg, io, redis, l)
	if err != nil {
		l.Fatalf("Failed to build system: %v", err)
	}
	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	l.Infof("Shutdown complete")
}
