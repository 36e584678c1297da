package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tphakala/ecosort/internal/conf"
)

// Config holds the configuration for the export tool.
type Config struct {
	SQLitePath string
	MySQL      conf.MySQLSettings

	SkipVerify bool
	Verbose    bool

	// Config file path for fallback
	ConfigPath string
}

// Load validates the flags, filling the source path and MySQL connection
// from config.yaml when they were not given.
func (c *Config) Load() error {
	if c.SQLitePath == "" {
		if err := c.loadFromConfigFile(); err != nil || c.SQLitePath == "" {
			return fmt.Errorf("--sqlite-path is required (or provide config.yaml)")
		}
	}
	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}
	if c.MySQL.Host == "" || c.MySQL.Database == "" {
		return fmt.Errorf("MySQL host and database are required")
	}
	return nil
}

func (c *Config) loadFromConfigFile() error {
	v := viper.New()

	configPath := c.ConfigPath
	if configPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(homeDir, ".config", "ecosort", "config.yaml")
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
			}
		}
		if configPath == "" {
			configPath = "config.yaml"
		}
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	c.SQLitePath = v.GetString("output.sqlite.path")
	if v.GetBool("output.mysql.enabled") {
		c.MySQL.Host = v.GetString("output.mysql.host")
		c.MySQL.Port = v.GetString("output.mysql.port")
		c.MySQL.Username = v.GetString("output.mysql.username")
		c.MySQL.Password = v.GetString("output.mysql.password")
		c.MySQL.Database = v.GetString("output.mysql.database")
	}
	if c.MySQL.Port == "" {
		c.MySQL.Port = "3306"
	}
	return nil
}

// SourceSettings selects the SQLite store.
func (c *Config) SourceSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Output.SQLite = conf.SQLiteSettings{Enabled: true, Path: c.SQLitePath}
	return s
}

// TargetSettings selects the MySQL store.
func (c *Config) TargetSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Output.MySQL = c.MySQL
	s.Output.MySQL.Enabled = true
	return s
}

// SanitizedTarget describes the target without its password.
func (c *Config) SanitizedTarget() string {
	return fmt.Sprintf("%s:****@tcp(%s:%s)/%s", c.MySQL.Username, c.MySQL.Host, c.MySQL.Port, c.MySQL.Database)
}
