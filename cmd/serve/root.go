package serve

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/ValentinKolb/mavconn/cmd/util"
	"github.com/ValentinKolb/mavconn/conn/common"
	"github.com/ValentinKolb/mavconn/conn/tcp"
	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

var (
	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start a MAVLink TCP hub",
		Long:    `Start a TCP server that accepts any number of MAVLink peers and aggregates them into one link. The configuration can be set via command line flags or environment variables. The format of the environment variables is MAVCONN_<flag> (e.g. MAVCONN_BIND_PORT=5760)`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return cmdUtil.BindCommandFlags(cmd) },
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnvConfig)

	// add flags
	cmdUtil.SetupConnFlags(ServeCmd)

	key := "bind-host"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Host to bind the listener to (empty = all interfaces)"))

	key = "bind-port"
	ServeCmd.PersistentFlags().Uint16(key, 5760, cmdUtil.WrapString("Port to bind the listener to"))

	key = "echo"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Rebroadcast every received message to all connected peers"))

	key = "orphan-on-close"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Do not close accepted peers on shutdown (historical behavior)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve prometheus metrics on (e.g. :9100, empty = disabled)"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("How often to log aggregated link statistics (in seconds, 0 = never)"))
}

// run starts the hub and blocks until SIGINT/SIGTERM
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(viper.GetString("log-level"))
	log := logger.GetLogger("cmd")

	conf := cmdUtil.GetConnConfig()
	conf.OrphanClientsOnClose = viper.GetBool("orphan-on-close")
	sysID, compID := cmdUtil.GetIdentity()

	srv, err := tcp.NewServer(sysID, compID, viper.GetString("bind-host"), uint16(viper.GetUint("bind-port")), conf)
	if err != nil {
		return err
	}

	echo := viper.GetBool("echo")
	if err := srv.Connect(
		func(msg *mavlink.RawMessage, framing mavlink.Framing) {
			log.Infof("chan%d: %s message id %d from %d.%d", msg.Channel, framing, msg.MsgID, msg.SysID, msg.CompID)
			if echo {
				_ = srv.SendMessage(msg)
			}
		},
		func() {
			log.Infof("server closed")
		},
	); err != nil {
		return err
	}
	log.Infof("listening on %s", srv.Addr())

	// optional prometheus exposition for all per-connection byte counters
	if addr := viper.GetString("metrics-endpoint"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
				metrics.WritePrometheus(w, true)
			})
			log.Infof("metrics on http://%s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	var ticker *time.Ticker
	stop := make(chan struct{})
	if ival := viper.GetInt("stats-interval"); ival > 0 {
		ticker = time.NewTicker(time.Duration(ival) * time.Second)
		go func() {
			for {
				select {
				case <-ticker.C:
					io := srv.GetIOStat()
					st := srv.GetStatus()
					log.Infof("peers: %d, rx: %d bytes (%.0f B/s), tx: %d bytes (%.0f B/s), msgs ok/drop: %d/%d",
						srv.ClientCount(), io.RxTotalBytes, io.RxSpeed, io.TxTotalBytes, io.TxSpeed,
						st.RxSuccess, st.RxDrop)
				case <-stop:
					return
				}
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if ticker != nil {
		ticker.Stop()
		close(stop)
	}
	return srv.Close()
}
