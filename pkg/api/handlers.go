package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/dimrozakis/vpn-proxy-go/pkg/control"
	"github.com/dimrozakis/vpn-proxy-go/pkg/domain"
	"github.com/dimrozakis/vpn-proxy-go/pkg/metrics"
	"github.com/dimrozakis/vpn-proxy-go/pkg/openvpn"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type handlers struct {
	controller      *control.Controller
	ifacePrefix     string
	serverPortStart int
	logger          zerolog.Logger
}

func (h *handlers) tunnelDict(t *domain.Tunnel) domain.TunnelDict {
	return t.ToDict(h.ifacePrefix, h.serverPortStart)
}

func (h *handlers) forwardingDict(f *domain.Forwarding, t *domain.Tunnel) domain.ForwardingDict {
	return f.ToDict(h.ifacePrefix, t)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain.Kind to an HTTP status and responds with the
// sanitized PublicMessage only; the internal cause stays in the log, never
// in the response body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindNoAddressAvail, domain.KindNoPortAvail:
		status = http.StatusConflict
	case domain.KindCommandFailed, domain.KindCommandSpawnFailed, domain.KindPersistence:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": domain.PublicMessageOf(err)})
}

func (h *handlers) listTunnels(w http.ResponseWriter, r *http.Request) {
	tunnels, err := h.controller.Store.ListTunnels()
	if err != nil {
		writeError(w, err)
		return
	}
	dicts := make([]domain.TunnelDict, 0, len(tunnels))
	for _, t := range tunnels {
		dicts = append(dicts, h.tunnelDict(t))
	}
	writeJSON(w, http.StatusOK, dicts)
}

func (h *handlers) createTunnel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, domain.ValidationErrorf("invalid form body: %v", err))
		return
	}
	t, err := h.controller.CreateTunnelInPools(r.Context(), true, r.Form["cidrs[]"], r.Form["excluded[]"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.tunnelDict(t))
}

func (h *handlers) tunnelID(r *http.Request, key string) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)[key])
	if err != nil {
		return 0, domain.ValidationErrorf("invalid id")
	}
	return id, nil
}

func (h *handlers) getTunnel(w http.ResponseWriter, r *http.Request) {
	id, err := h.tunnelID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := h.controller.Store.GetTunnel(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tunnelDict(t))
}

func (h *handlers) enableTunnel(w http.ResponseWriter, r *http.Request) {
	id, err := h.tunnelID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := h.controller.SetTunnelActive(r.Context(), id, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tunnelDict(t))
}

func (h *handlers) deleteTunnel(w http.ResponseWriter, r *http.Request) {
	id, err := h.tunnelID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.controller.DeleteTunnel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *handlers) clientScript(w http.ResponseWriter, r *http.Request) {
	id, err := h.tunnelID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := h.controller.Store.GetTunnel(id)
	if err != nil {
		writeError(w, err)
		return
	}

	keyPath := t.KeyPath(h.controller.OpenVPNDir, h.ifacePrefix)
	clientConf := openvpn.RenderClientConfig(t, h.ifacePrefix, h.serverPortStart, h.controller.RemoteAddress, keyPath)
	script := openvpn.RenderClientBootstrapScript(t, h.ifacePrefix, h.serverPortStart, t.Key, clientConf)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(script))
}

func (h *handlers) ensureForwarding(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tid, err := strconv.Atoi(vars["tid"])
	if err != nil {
		writeError(w, domain.ValidationErrorf("invalid tunnel id"))
		return
	}
	port, err := strconv.Atoi(vars["port"])
	if err != nil {
		writeError(w, domain.ValidationErrorf("invalid port"))
		return
	}
	dst := vars["dst"]

	existing, err := h.controller.Store.ListForwardingsByTunnel(tid)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, f := range existing {
		if f.DstAddr.String() == dst && f.DstPort == port {
			if !f.Active {
				if _, err := h.controller.SetForwardingActive(r.Context(), f.ID, true); err != nil {
					writeError(w, err)
					return
				}
			}
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(strconv.Itoa(f.LocPort)))
			return
		}
	}

	f, err := h.controller.CreateForwarding(r.Context(), tid, dst, port, true)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(strconv.Itoa(f.LocPort)))
}

var pingSummaryRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
var pingRTTRe = regexp.MustCompile(`= ([\d.]+)/([\d.]+)/([\d.]+)`)

type pingResult struct {
	Transmitted int     `json:"transmitted"`
	Received    int     `json:"received"`
	RTTMinMS    float64 `json:"rtt_min_ms"`
	RTTAvgMS    float64 `json:"rtt_avg_ms"`
	RTTMaxMS    float64 `json:"rtt_max_ms"`
}

// ping shells out to `ping -q` over the tunnel's server address and parses
// the summary line into JSON. The diagnostic endpoint's ping semantics are
// out of scope beyond this shell-out per the specification; only enough
// parsing is done to surface packet loss and round-trip time.
func (h *handlers) ping(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tid, err := strconv.Atoi(vars["tid"])
	if err != nil {
		writeError(w, domain.ValidationErrorf("invalid tunnel id"))
		return
	}
	target := vars["target"]

	t, err := h.controller.Store.GetTunnel(tid)
	if err != nil {
		writeError(w, err)
		return
	}

	pkts := "4"
	if v := r.URL.Query().Get("pkts"); v != "" {
		pkts = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ping", "-q", "-c", pkts, "-I", t.Server.String(), target)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		writeError(w, domain.WrapCommandError(&domain.CommandFailed{
			Argv:   cmd.Args,
			Output: out.String(),
		}))
		return
	}

	result := pingResult{}
	if m := pingSummaryRe.FindStringSubmatch(out.String()); m != nil {
		result.Transmitted, _ = strconv.Atoi(m[1])
		result.Received, _ = strconv.Atoi(m[2])
	}
	if m := pingRTTRe.FindStringSubmatch(out.String()); m != nil {
		result.RTTMinMS, _ = strconv.ParseFloat(m[1], 64)
		result.RTTAvgMS, _ = strconv.ParseFloat(m[2], 64)
		result.RTTMaxMS, _ = strconv.ParseFloat(m[3], 64)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (h *handlers) metricsHandler() http.Handler {
	return metrics.Handler()
}
