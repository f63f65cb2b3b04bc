package util

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/client"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var Logger = logger.GetLogger("cli")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and makes viper read MESHLINK_* variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("meshlink")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// InitLogging routes the library loggers to stderr and applies the
// configured level
func InitLogging() error {
	common.SetLogOutput(os.Stderr)
	return common.InitLoggers(viper.GetString("log-level"))
}

// SetupConnectionFlags adds the flags describing the device connection
func SetupConnectionFlags(cmd *cobra.Command) {
	d := common.DefaultConnectionConfig()

	key := "host"
	cmd.PersistentFlags().String(key, d.Transport.Endpoint, WrapString("Address of the device (host[:port], the port defaults to 4403)"))

	key = "dial-timeout"
	cmd.PersistentFlags().Duration(key, d.Transport.DialTimeout, WrapString("Timeout for opening the connection"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, d.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY on the socket"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Keep-alive period of the socket (0 disables it)"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, d.RequestTimeout, WrapString("How long to wait for acks and responses"))

	key = "handshake-timeout"
	cmd.PersistentFlags().Duration(key, d.HandshakeTimeout, WrapString("How long the device may take to send its configuration"))

	key = "idle-interval"
	cmd.PersistentFlags().Duration(key, d.IdleInterval, WrapString("Send a heartbeat after this long without data from the device"))

	key = "keepalive-deadline"
	cmd.PersistentFlags().Duration(key, d.KeepaliveDeadline, WrapString("Give up on the device if it does not answer a heartbeat within this time"))

	key = "min-firmware"
	cmd.PersistentFlags().String(key, d.MinFirmwareVersion, WrapString("Warn if the device runs older firmware (empty disables the check)"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// GetConnectionConfig reads the connection configuration from viper
func GetConnectionConfig() common.ConnectionConfig {
	conf := common.DefaultConnectionConfig()
	conf.Transport = common.ClientTransportConfig{
		Type:         common.TransportTCP,
		Endpoint:     viper.GetString("host"),
		DialTimeout:  viper.GetDuration("dial-timeout"),
		TCPNoDelay:   viper.GetBool("tcp-nodelay"),
		TCPKeepAlive: viper.GetDuration("tcp-keepalive"),
	}
	conf.RequestTimeout = viper.GetDuration("timeout")
	conf.HandshakeTimeout = viper.GetDuration("handshake-timeout")
	conf.IdleInterval = viper.GetDuration("idle-interval")
	conf.KeepaliveDeadline = viper.GetDuration("keepalive-deadline")
	conf.MinFirmwareVersion = viper.GetString("min-firmware")
	conf.LogLevel = viper.GetString("log-level")
	return conf.WithDefaults()
}

// Connect dials the configured device
func Connect(ctx context.Context, opts ...client.Option) (*client.Connection, error) {
	conf := GetConnectionConfig()
	Logger.Debugf("connecting with config:%s", conf.String())

	spinner, _ := pterm.DefaultSpinner.
		WithRemoveWhenDone(true).
		Start(fmt.Sprintf("connecting to %s", conf.Transport.Endpoint))
	conn, err := client.Dial(ctx, conf, opts...)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", conf.Transport.Endpoint, err)
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Output Helpers
// --------------------------------------------------------------------------

// Ago formats the time since t for tables ("-" for the zero time)
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}
