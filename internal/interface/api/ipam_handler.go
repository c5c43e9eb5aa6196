package api

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/zinrai/ipam-staticip-go/internal/domain"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/db"
	"github.com/zinrai/ipam-staticip-go/internal/usecase"
)

var logger = loggo.GetLogger("ipam.api")

type IPAMHandler struct {
	useCase *usecase.IPAMUseCase
}

func NewIPAMHandler(useCase *usecase.IPAMUseCase) *IPAMHandler {
	return &IPAMHandler{useCase: useCase}
}

// Register adds the IPAM routes to r.
func (h *IPAMHandler) Register(r *mux.Router) {
	r.HandleFunc("/cluster-interfaces", h.createClusterInterface).Methods(http.MethodPost)
	r.HandleFunc("/cluster-interfaces", h.listClusterInterfaces).Methods(http.MethodGet)
	r.HandleFunc("/cluster-interfaces/{id:[0-9]+}", h.getClusterInterface).Methods(http.MethodGet)
	r.HandleFunc("/macs", h.registerMACAddress).Methods(http.MethodPost)
	r.HandleFunc("/macs/{mac}/cluster-interface", h.setClusterInterface).Methods(http.MethodPut)
	r.HandleFunc("/macs/{mac}/static-ips", h.claimStaticIPs).Methods(http.MethodPost)
	r.HandleFunc("/macs/{mac}/static-ips", h.listStaticIPs).Methods(http.MethodGet)
	r.HandleFunc("/static-ips/{id:[0-9]+}", h.releaseStaticIP).Methods(http.MethodDelete)
}

type clusterInterface struct {
	ID              int          `json:"id"`
	ClusterID       int          `json:"cluster_id"`
	Name            string       `json:"name"`
	Network         netip.Prefix `json:"network"`
	RouterIP        netip.Addr   `json:"router_ip"`
	StaticRangeLow  netip.Addr   `json:"static_range_low"`
	StaticRangeHigh netip.Addr   `json:"static_range_high"`
}

func toClusterInterface(ci *domain.ClusterInterface) clusterInterface {
	return clusterInterface{
		ID:              ci.ID,
		ClusterID:       ci.ClusterID,
		Name:            ci.Name,
		Network:         ci.Network,
		RouterIP:        ci.RouterIP,
		StaticRangeLow:  ci.StaticRangeLow,
		StaticRangeHigh: ci.StaticRangeHigh,
	}
}

type staticIP struct {
	ID        int              `json:"id"`
	IP        netip.Addr       `json:"ip"`
	AllocType domain.AllocType `json:"alloc_type"`
}

func toStaticIPs(sips []*domain.StaticIPAddress) []staticIP {
	out := make([]staticIP, 0, len(sips))
	for _, sip := range sips {
		out = append(out, staticIP{ID: sip.ID, IP: sip.IP, AllocType: sip.AllocType})
	}
	return out
}

func (h *IPAMHandler) createClusterInterface(w http.ResponseWriter, r *http.Request) {
	var request clusterInterface
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ci := &domain.ClusterInterface{
		ClusterID:       request.ClusterID,
		Name:            request.Name,
		Network:         request.Network,
		RouterIP:        request.RouterIP,
		StaticRangeLow:  request.StaticRangeLow,
		StaticRangeHigh: request.StaticRangeHigh,
	}
	if err := h.useCase.CreateClusterInterface(r.Context(), ci); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClusterInterface(ci))
}

func (h *IPAMHandler) listClusterInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := h.useCase.ListClusterInterfaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]clusterInterface, 0, len(ifaces))
	for _, ci := range ifaces {
		out = append(out, toClusterInterface(ci))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *IPAMHandler) getClusterInterface(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid cluster interface ID", http.StatusBadRequest)
		return
	}
	ci, err := h.useCase.GetClusterInterface(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClusterInterface(ci))
}

func (h *IPAMHandler) registerMACAddress(w http.ResponseWriter, r *http.Request) {
	var request struct {
		MACAddress string `json:"mac_address"`
		Node       string `json:"node"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mac, err := h.useCase.RegisterMACAddress(r.Context(), request.MACAddress, request.Node)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID         int    `json:"id"`
		MACAddress string `json:"mac_address"`
		Node       string `json:"node"`
	}{
		ID:         mac.ID,
		MACAddress: mac.Address,
		Node:       mac.Node,
	})
}

func (h *IPAMHandler) setClusterInterface(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ClusterInterfaceID int `json:"cluster_interface_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.useCase.SetClusterInterface(r.Context(), mux.Vars(r)["mac"], request.ClusterInterfaceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IPAMHandler) claimStaticIPs(w http.ResponseWriter, r *http.Request) {
	var request struct {
		AllocType        domain.AllocType `json:"alloc_type"`
		RequestedAddress netip.Addr       `json:"requested_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sips, err := h.useCase.ClaimStaticIPs(r.Context(), usecase.ClaimRequest{
		MAC:              mux.Vars(r)["mac"],
		AllocType:        request.AllocType,
		RequestedAddress: request.RequestedAddress,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStaticIPs(sips))
}

func (h *IPAMHandler) listStaticIPs(w http.ResponseWriter, r *http.Request) {
	sips, err := h.useCase.ListStaticIPs(r.Context(), mux.Vars(r)["mac"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStaticIPs(sips))
}

func (h *IPAMHandler) releaseStaticIP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid IP ID", http.StatusBadRequest)
		return
	}
	if err := h.useCase.ReleaseStaticIP(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%v", errors.ErrorStack(err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.IsNotValid(err), errors.Is(err, domain.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTypeClash),
		errors.Is(err, domain.ErrAddressUnavailable),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRangeExhausted), db.IsSerializationFailure(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
