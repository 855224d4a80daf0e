package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	nodex "github.com/tanpawarit/echobot/agent/nodes/orchestrator"
)

const (
	nodeValidateRequest = "validate_request"
	nodeLoadSession     = "load_session"
	nodeClassifyIntent  = "classify_intent"
	nodeDirectPlugin    = "direct_plugin"
	nodeBuildContext    = "build_context"
	nodeModelRound1     = "model_round_1"
	nodeDispatchTools   = "dispatch_tools"
	nodeModelRound2     = "model_round_2"
	nodeWriteMemory     = "write_memory"
	nodeSaveSession     = "save_session"
	nodeFinalizeReply   = "finalize_reply"
)

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	texts := nodex.ReplyTexts{
		Apology:      o.cfg.Apology,
		ToolFallback: o.cfg.ToolFallback,
		PluginError:  o.cfg.PluginErrorReply,
	}
	contextOpts := nodex.ContextOptions{
		Persona:      o.cfg.Persona,
		MemoryK:      o.cfg.MemoryK,
		HistoryTurns: o.cfg.HistoryTurns,
		Timeout:      o.cfg.MemoryTimeout,
	}

	if err := graph.AddLambdaNode(nodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeValidateRequest, err)
	}

	stateNodes := []struct {
		name string
		fn   func(context.Context, *nodex.GraphState) (*nodex.GraphState, error)
	}{
		{nodeLoadSession, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadSession(ctx, in, o.store)
		}},
		{nodeClassifyIntent, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ClassifyIntent(ctx, in, o.router)
		}},
		{nodeDirectPlugin, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DirectPlugin(ctx, in, o.pluginContext(in.SessionID), texts.PluginError)
		}},
		{nodeBuildContext, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BuildContext(ctx, in, o.memory, contextOpts, o.metrics)
		}},
		{nodeModelRound1, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ModelRound1(ctx, in, o.llm, o.registry.ToolSchemas(), texts, o.metrics)
		}},
		{nodeDispatchTools, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DispatchTools(ctx, in, o.registry, o.cfg.ToolTimeout, o.metrics)
		}},
		{nodeModelRound2, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ModelRound2(ctx, in, o.llm, texts, o.metrics)
		}},
		{nodeWriteMemory, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.WriteMemory(ctx, in, o.memory, o.cfg.PersistDirectAnswers, o.cfg.MemoryTimeout, o.metrics)
		}},
		{nodeSaveSession, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveSession(ctx, in, o.store, o.cfg.MaxStoredTurns)
		}},
	}
	for _, n := range stateNodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(n.fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	if err := graph.AddLambdaNode(nodeFinalizeReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in, o.cfg.ToolFallback)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalizeReply, err)
	}

	edges := [][2]string{
		{compose.START, nodeValidateRequest},
		{nodeValidateRequest, nodeLoadSession},
		{nodeLoadSession, nodeClassifyIntent},
		{nodeBuildContext, nodeModelRound1},
		{nodeDispatchTools, nodeModelRound2},
		{nodeDirectPlugin, nodeWriteMemory},
		{nodeWriteMemory, nodeSaveSession},
		{nodeSaveSession, nodeFinalizeReply},
		{nodeFinalizeReply, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branches := []struct {
		from   string
		branch *compose.GraphBranch
	}{
		{nodeClassifyIntent, compose.NewGraphBranch(routeAfterClassify, map[string]bool{
			nodeDirectPlugin: true,
			nodeBuildContext: true,
		})},
		{nodeModelRound1, compose.NewGraphBranch(routeAfterRound1, map[string]bool{
			nodeDispatchTools: true,
			nodeWriteMemory:   true,
			nodeFinalizeReply: true,
		})},
		{nodeModelRound2, compose.NewGraphBranch(routeAfterRound2, map[string]bool{
			nodeWriteMemory:   true,
			nodeFinalizeReply: true,
		})},
	}
	for _, b := range branches {
		if err := graph.AddBranch(b.from, b.branch); err != nil {
			return nil, fmt.Errorf("add branch after %s: %w", b.from, err)
		}
	}

	runner, err := graph.Compile(ctx,
		compose.WithGraphName("orchestrator.handle_message"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
	)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

func routeAfterClassify(ctx context.Context, in *nodex.GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Decision.IsChat() {
		return nodeBuildContext, nil
	}
	return nodeDirectPlugin, nil
}

func routeAfterRound1(ctx context.Context, in *nodex.GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	switch in.Route {
	case nodex.RouteFailed:
		return nodeFinalizeReply, nil
	case nodex.RouteTools:
		return nodeDispatchTools, nil
	default:
		return nodeWriteMemory, nil
	}
}

func routeAfterRound2(ctx context.Context, in *nodex.GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Route == nodex.RouteFailed {
		return nodeFinalizeReply, nil
	}
	return nodeWriteMemory, nil
}
