package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 数据库类型
const (
	DBNone     = "none"
	DBSQLite   = "sqlite"
	DBPostgres = "postgres"
)

// Config 服务配置，对应 config.xml
type Config struct {
	XMLName    xml.Name `xml:"config"`
	MainRouter string   `xml:"MainRouter"`

	// 上游地形服务
	Upstream   string `xml:"upstream"`
	LayerJSON  string `xml:"layer"`
	Projection string `xml:"projection"`
	Extensions string `xml:"extensions"`
	Source     string `xml:"source"`

	// 编辑区域文件（GeoJSON）
	Edits string `xml:"edits"`
	// 导出zip目录
	ExportDir string `xml:"exportdir"`

	DBType   string `xml:"dbtype"`
	SQLite   string `xml:"sqlite"`
	Dbname   string `xml:"dbname"`
	Host     string `xml:"host"`
	Port     string `xml:"port"`
	Username string `xml:"user"`
	Password string `xml:"password"`

	LogLevel string `xml:"loglevel"`
	LogFile  string `xml:"logfile"`

	MaxConcurrent int `xml:"maxconcurrent"`
	// 单瓦片超时（秒）
	Timeout int `xml:"timeout"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		MainRouter:    ":8426",
		Projection:    "EPSG:4326",
		Extensions:    "octvertexnormals,watermask,metadata",
		DBType:        DBNone,
		SQLite:        "terrain.db",
		ExportDir:     "./exports",
		Port:          "5432",
		LogLevel:      "info",
		MaxConcurrent: 16,
		Timeout:       30,
	}
}

// Load 读取XML配置并叠加环境变量，path 为空时只用默认值与环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		xmlFile, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer xmlFile.Close()

		if err := xml.NewDecoder(xmlFile).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles 加载 .env 文件到环境变量，不存在的文件忽略
func LoadEnvFiles(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// ApplyEnv TERRAIN_* 环境变量覆盖配置
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"TERRAIN_ROUTER":     &c.MainRouter,
		"TERRAIN_UPSTREAM":   &c.Upstream,
		"TERRAIN_LAYER":      &c.LayerJSON,
		"TERRAIN_PROJECTION": &c.Projection,
		"TERRAIN_EXTENSIONS": &c.Extensions,
		"TERRAIN_SOURCE":     &c.Source,
		"TERRAIN_EDITS":      &c.Edits,
		"TERRAIN_EXPORT_DIR": &c.ExportDir,
		"TERRAIN_DB_TYPE":    &c.DBType,
		"TERRAIN_SQLITE":     &c.SQLite,
		"TERRAIN_DB_NAME":    &c.Dbname,
		"TERRAIN_DB_HOST":    &c.Host,
		"TERRAIN_DB_PORT":    &c.Port,
		"TERRAIN_DB_USER":    &c.Username,
		"TERRAIN_DB_PASS":    &c.Password,
		"TERRAIN_LOG_LEVEL":  &c.LogLevel,
		"TERRAIN_LOG_FILE":   &c.LogFile,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"TERRAIN_MAX_CONCURRENT": &c.MaxConcurrent,
		"TERRAIN_TIMEOUT":        &c.Timeout,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate 检查必填项与取值范围
func (c *Config) Validate() error {
	switch c.DBType {
	case "", DBNone, DBSQLite, DBPostgres:
	default:
		return fmt.Errorf("unsupported dbtype: %s", c.DBType)
	}
	if c.Upstream == "" && c.Source == "" {
		return errors.New("either upstream or source must be configured")
	}
	if c.Source != "" && !c.UseDatabase() {
		return errors.New("source requires a database (dbtype sqlite or postgres)")
	}
	if c.MaxConcurrent < 0 || c.Timeout < 0 {
		return errors.New("maxconcurrent and timeout must not be negative")
	}
	return nil
}

// UseDatabase 是否启用数据库
func (c *Config) UseDatabase() bool {
	return c.DBType == DBSQLite || c.DBType == DBPostgres
}

// DSN PostgreSQL连接串
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Username, c.Password, c.Dbname, c.Port)
}

// ExtensionList 逗号分隔的扩展名
func (c *Config) ExtensionList() []string {
	var out []string
	for _, ext := range strings.Split(c.Extensions, ",") {
		if ext = strings.TrimSpace(ext); ext != "" {
			out = append(out, ext)
		}
	}
	return out
}
