package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/mavconn/conn/common"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitEnvConfig initializes configuration from environment variables. The
// format of the variables is MAVCONN_<flag> (e.g. MAVCONN_TCP_NODELAY=false)
func InitEnvConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("mavconn")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds the flags of a command to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupConnFlags adds the connection tunables every subcommand shares
func SetupConnFlags(cmd *cobra.Command) {
	key := "system-id"
	cmd.PersistentFlags().Uint8(key, 1, WrapString("MAVLink system id of this endpoint"))

	key = "component-id"
	cmd.PersistentFlags().Uint8(key, 240, WrapString("MAVLink component id of this endpoint"))

	key = "tx-queue-depth"
	cmd.PersistentFlags().Int(key, 1000, WrapString("Maximum number of frames buffered per connection before send calls fail with a queue overflow"))

	key = "rx-buffer"
	cmd.PersistentFlags().Int(key, 64, WrapString("Size of the receive buffer per connection (in KB)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Kernel socket write buffer size (in KB, 0 = system default)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Kernel socket read buffer size (in KB, 0 = system default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to disable Nagle's algorithm on the sockets"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("TCP keep-alive interval (in seconds, 0 = off)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("SO_LINGER timeout (in seconds, negative = system default)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level (debug, info, warn, error)"))
}

// GetConnConfig reads the connection configuration from viper
func GetConnConfig() common.Config {
	conf := common.DefaultConfig()
	conf.TxQueueDepth = viper.GetInt("tx-queue-depth")
	conf.RxBufferSize = viper.GetInt("rx-buffer") * 1024
	conf.WriteBufferSize = viper.GetInt("write-buffer") * 1024
	conf.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	conf.TCPNoDelay = viper.GetBool("tcp-nodelay")
	conf.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	conf.TCPLingerSec = viper.GetInt("tcp-linger")
	return conf
}

// GetIdentity reads the MAVLink identity from viper
func GetIdentity() (sysID, compID uint8) {
	return uint8(viper.GetUint("system-id")), uint8(viper.GetUint("component-id"))
}
