package core

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

type apiOutput struct {
	Label  string `json:"label"`
	Input  int    `json:"input"`
	Locked bool   `json:"locked"`
}

type apiInput struct {
	Label   string `json:"label"`
	Source  string `json:"source,omitempty"`
	Address string `json:"address,omitempty"`
}

type apiRouting struct {
	Generation uint64      `json:"generation"`
	Outputs    []apiOutput `json:"outputs"`
}

type apiError struct {
	Error string `json:"error"`
}

type apiVideohubServer interface {
	onAPISessionsList(req videohubServerAPISessionsListReq) videohubServerAPISessionsListRes
	onAPISessionsKick(req videohubServerAPISessionsKickReq) videohubServerAPISessionsKickRes
}

type apiParent interface {
	Log(logger.Level, string, ...interface{})
}

type api struct {
	table          *routing.Table
	registry       *routing.Registry
	videohubServer apiVideohubServer
	parent         apiParent

	ln     net.Listener
	server *http.Server
}

func newAPI(
	address string,
	table *routing.Table,
	registry *routing.Registry,
	videohubServer apiVideohubServer,
	parent apiParent,
) (*api, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	a := &api{
		table:          table,
		registry:       registry,
		videohubServer: videohubServer,
		parent:         parent,
		ln:             ln,
	}

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	group := router.Group("/")

	group.GET("/v1/routing/list", a.onRoutingList)
	group.POST("/v1/routing/set/:output", a.onRoutingSet)
	group.GET("/v1/inputs/list", a.onInputsList)
	group.GET("/v1/outputs/list", a.onOutputsList)
	group.GET("/v1/sessions/list", a.onSessionsList)
	group.POST("/v1/sessions/kick/:id", a.onSessionsKick)

	a.server = &http.Server{Handler: router}

	a.log(logger.Info, "listener opened on "+address)

	go a.run()

	return a, nil
}

func (a *api) close() {
	a.server.Shutdown(context.Background()) //nolint:errcheck
	a.ln.Close()
}

func (a *api) log(level logger.Level, format string, args ...interface{}) {
	a.parent.Log(level, "[API] "+format, args...)
}

func (a *api) run() {
	err := a.server.Serve(a.ln)
	if err != http.ErrServerClosed {
		panic(err)
	}
}

func (a *api) writeError(ctx *gin.Context, status int, err error) {
	a.log(logger.Error, "%s", err)
	ctx.JSON(status, &apiError{Error: err.Error()})
}

func (a *api) onRoutingList(ctx *gin.Context) {
	generation, outputs := a.table.Snapshot()

	res := apiRouting{
		Generation: generation,
		Outputs:    make([]apiOutput, len(outputs)),
	}

	for i, out := range outputs {
		res.Outputs[i] = apiOutput{
			Label:  out.Label,
			Input:  out.Input,
			Locked: out.LockOwner != uuid.Nil,
		}
	}

	ctx.JSON(http.StatusOK, res)
}

func (a *api) onRoutingSet(ctx *gin.Context) {
	output, err := strconv.Atoi(ctx.Param("output"))
	if err != nil {
		a.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Input int `json:"input"`
	}
	err = json.NewDecoder(ctx.Request.Body).Decode(&req)
	if err != nil {
		a.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	// API assignments carry no session identity and cannot bypass locks.
	err = a.table.Assign(output, req.Input, uuid.Nil)
	if err != nil {
		a.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	ctx.Status(http.StatusOK)
}

func (a *api) onInputsList(ctx *gin.Context) {
	inputs := a.registry.Snapshot()

	res := make([]apiInput, len(inputs))
	for i, in := range inputs {
		res[i] = apiInput{Label: in.Label}
		if in.Source != nil {
			res[i].Source = in.Source.ID
			res[i].Address = in.Source.Address
		}
	}

	ctx.JSON(http.StatusOK, res)
}

func (a *api) onOutputsList(ctx *gin.Context) {
	_, outputs := a.table.Snapshot()

	res := make([]apiOutput, len(outputs))
	for i, out := range outputs {
		res[i] = apiOutput{
			Label:  out.Label,
			Input:  out.Input,
			Locked: out.LockOwner != uuid.Nil,
		}
	}

	ctx.JSON(http.StatusOK, res)
}

func (a *api) onSessionsList(ctx *gin.Context) {
	res := a.videohubServer.onAPISessionsList(videohubServerAPISessionsListReq{})
	if res.err != nil {
		a.writeError(ctx, http.StatusInternalServerError, res.err)
		return
	}

	ctx.JSON(http.StatusOK, res.sessions)
}

func (a *api) onSessionsKick(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		a.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	res := a.videohubServer.onAPISessionsKick(videohubServerAPISessionsKickReq{id: id})
	if res.err != nil {
		a.writeError(ctx, http.StatusNotFound, res.err)
		return
	}

	ctx.Status(http.StatusOK)
}
