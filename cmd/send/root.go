package send

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/ValentinKolb/mavconn/cmd/util"
	"github.com/ValentinKolb/mavconn/conn/common"
	"github.com/ValentinKolb/mavconn/conn/tcp"
	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

var (
	SendCmd = &cobra.Command{
		Use:     "send",
		Short:   "Connect to a MAVLink TCP endpoint and emit heartbeats",
		Long:    `Connect to a MAVLink TCP server and send a heartbeat at a fixed interval, reconnecting with exponential backoff when the link drops. Received messages are logged.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return cmdUtil.BindCommandFlags(cmd) },
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnvConfig)

	// add flags
	cmdUtil.SetupConnFlags(SendCmd)

	key := "target-host"
	SendCmd.PersistentFlags().String(key, "localhost", cmdUtil.WrapString("Host to connect to"))

	key = "target-port"
	SendCmd.PersistentFlags().Uint16(key, 5760, cmdUtil.WrapString("Port to connect to"))

	key = "interval"
	SendCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("Heartbeat interval in milliseconds"))
}

// run drives one client link until SIGINT/SIGTERM, redialing on loss
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(viper.GetString("log-level"))
	log := logger.GetLogger("cmd")

	conf := cmdUtil.GetConnConfig()
	sysID, compID := cmdUtil.GetIdentity()
	host := viper.GetString("target-host")
	port := uint16(viper.GetUint("target-port"))
	interval := time.Duration(viper.GetInt("interval")) * time.Millisecond

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	redial := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Jitter: true,
	}

	for {
		client, err := tcp.NewClient(sysID, compID, host, port, conf)
		if err != nil {
			d := redial.Duration()
			log.Warningf("connect failed (%v), retrying in %s", err, d)
			select {
			case <-time.After(d):
				continue
			case <-sig:
				return nil
			}
		}
		redial.Reset()

		closed := make(chan struct{})
		if err := client.Connect(
			func(msg *mavlink.RawMessage, framing mavlink.Framing) {
				log.Infof("recv: %s message id %d from %d.%d", framing, msg.MsgID, msg.SysID, msg.CompID)
			},
			func() {
				close(closed)
			},
		); err != nil {
			return err
		}

		hb := mavlink.Heartbeat{Type: 6, Autopilot: 8, SystemStatus: 4, MavlinkVersion: 3}
		ticker := time.NewTicker(interval)

	link:
		for {
			select {
			case <-ticker.C:
				if err := client.SendEncoded(hb, compID); err != nil {
					log.Warningf("send: %v", err)
				}
			case <-closed:
				log.Warningf("link lost, redialing")
				ticker.Stop()
				break link
			case <-sig:
				ticker.Stop()
				return client.Close()
			}
		}
	}
}
