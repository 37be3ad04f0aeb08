package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/agent/guardrails"
	"github.com/jhlu2019/GustoBot-sub000/internal/uploads"
	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
)

const semanticCacheType = "semantic"

func (r *Router) cacheLookup(ctx context.Context, s State) (State, error) {
	if r.deps.Cache == nil || s.SessionID == "" || s.Question == "" || s.ImagePath != "" || s.FilePath != "" {
		return s, nil
	}
	hit, ok, err := r.deps.Cache.Lookup(ctx, s.SessionID, s.Question)
	if err != nil {
		r.logger.Warn("semantic cache lookup failed", zap.Error(err))
		return s, nil
	}
	if !ok {
		r.deps.Metrics.RecordCacheMiss(semanticCacheType)
		return s, nil
	}
	r.deps.Metrics.RecordCacheHit(semanticCacheType)

	turn := decodeCachedTurn(hit.Response)
	s.CacheHit = true
	s.RouteSource = SourceCache
	s.Decision = types.RouterDecision{Type: turn.Route, Logic: turn.Logic, Question: s.Question}
	s.Answer = turn.Answer
	s.Sources = turn.Sources
	s = s.meta("cache_hit", true)
	s = s.meta("cache_similarity", hit.Similarity)
	s.Steps = append(s.Steps, fmt.Sprintf("cache_hit(%.3f)", hit.Similarity))
	return s, nil
}

func (r *Router) analyze(ctx context.Context, s State) (State, error) {
	d, source := r.decide(ctx, s)
	s.Decision = d
	s.RouteSource = source
	s = s.meta("route_source", source)
	s.Steps = append(s.Steps, fmt.Sprintf("route=%s(%s)", d.Type, source))
	r.deps.Metrics.RecordRoute(string(d.Type), source)
	r.logger.Debug("routed", zap.String("route", string(d.Type)), zap.String("source", source))
	return s, nil
}

// decide 路由决策：文件/图像覆盖 → LLM → 关键词启发式。结果总在路由集合内。
func (r *Router) decide(ctx context.Context, s State) (types.RouterDecision, string) {
	q := s.Question
	switch {
	case s.FilePath != "":
		return types.RouterDecision{Type: types.RouteFile, Logic: "request carries file_path", Question: q}, SourceOverride
	case s.ImagePath != "":
		return types.RouterDecision{Type: types.RouteImage, Logic: "request carries image_path", Question: q}, SourceOverride
	case q == "":
		return types.RouterDecision{Type: types.RouteClarify, Logic: "empty message", Question: q}, SourceHeuristic
	}
	if r.deps.Images != nil {
		if kw, ok := matchKeyword(q, r.cfg.ImageKeywords); ok {
			return types.RouterDecision{Type: types.RouteImage, Logic: "image keyword: " + kw, Question: q}, SourceOverride
		}
	}

	d, err := r.classify(ctx, s)
	if err == nil {
		if strings.TrimSpace(d.Question) == "" {
			d.Question = q
		}
		// 没有上传文件或图片时模型给出的 file/image 不可执行
		if d.Type == types.RouteFile || (d.Type == types.RouteImage && r.deps.Images == nil) {
			return Heuristic(q, r.cfg), SourceHeuristic
		}
		return d, SourceLLM
	}
	if ctx.Err() == nil {
		r.logger.Warn("router model degraded, using heuristic", zap.Error(err))
	}
	return Heuristic(q, r.cfg), SourceHeuristic
}

func (r *Router) classify(ctx context.Context, s State) (types.RouterDecision, error) {
	msgs := []types.Message{types.NewSystemMessage(routerSystemPrompt)}
	msgs = append(msgs, conversational(s.History)...)
	msgs = append(msgs, types.NewUserMessage(s.Question))

	start := time.Now()
	d, err := llm.CompleteJSON[types.RouterDecision](ctx, r.deps.Model, msgs, func(d types.RouterDecision) error {
		if !d.Type.Valid() {
			return fmt.Errorf("route %q outside route set", d.Type)
		}
		return nil
	}, llm.WithTemperature(0))
	r.deps.Metrics.RecordLLMRequest("router", err, time.Since(start))
	return d, err
}

// Heuristic 关键词兜底：统计类 → text2sql，做法类 → kg，其余 → kb
func Heuristic(question string, cfg Config) types.RouterDecision {
	cfg = cfg.withDefaults()
	if kw, ok := matchKeyword(question, cfg.StatisticalKeywords); ok {
		return types.RouterDecision{Type: types.RouteText2SQL, Logic: "statistical keyword: " + kw, Question: question}
	}
	if kw, ok := matchKeyword(question, cfg.ProceduralKeywords); ok {
		return types.RouterDecision{Type: types.RouteKG, Logic: "procedural keyword: " + kw, Question: question}
	}
	return types.RouterDecision{Type: types.RouteKB, Logic: "default", Question: question}
}

func matchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

func (r *Router) guardrails(ctx context.Context, s State) (State, error) {
	if r.deps.Guard == nil {
		return s, nil
	}
	res, err := r.deps.Guard.Check(ctx, s.Question, s.History)
	if err != nil {
		return s, err
	}
	r.deps.Metrics.RecordGuardrail("router", string(res.Decision))
	s.Steps = append(s.Steps, "guardrails="+string(res.Decision))
	if res.Proceed() {
		return s, nil
	}
	s.Answer = res.Summary
	if s.Answer == "" {
		s.Answer = guardrails.DefaultRefusal
	}
	s.Sources = []string{}
	return s.meta("guardrail", string(guardrails.DecisionEnd)), nil
}

// reply 调用对话模型，失败时返回模板并标记降级
func (r *Router) reply(ctx context.Context, s State, system, fallback string, opts ...llm.CallOption) State {
	msgs := []types.Message{types.NewSystemMessage(system)}
	msgs = append(msgs, conversational(s.History)...)
	msgs = append(msgs, types.NewUserMessage(s.Question))

	start := time.Now()
	out, err := r.deps.Model.Complete(ctx, msgs, opts...)
	r.deps.Metrics.RecordLLMRequest(string(s.Decision.Type), err, time.Since(start))
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		r.logger.Warn("reply degraded to template", zap.String("route", string(s.Decision.Type)), zap.Error(err))
		s.Answer = fallback
		s.Degraded = true
		return s
	}
	s.Answer = out
	return s
}

func (r *Router) chat(ctx context.Context, s State) (State, error) {
	s = r.reply(ctx, s, chatSystemPrompt, greetingFallback, llm.WithTemperature(0.7))
	s.Sources = []string{}
	return s, nil
}

func (r *Router) clarify(ctx context.Context, s State) (State, error) {
	s = r.reply(ctx, s, clarifySystemPrompt, clarifyFallback, llm.WithTemperature(0.3))
	s.Sources = []string{}
	return s, nil
}

func (r *Router) reject(_ context.Context, s State) (State, error) {
	s.Answer = guardrails.DefaultRefusal
	s.Sources = []string{}
	return s, nil
}

func (r *Router) knowledgeBase(ctx context.Context, s State) (State, error) {
	if r.deps.KB == nil {
		s.Answer = answerFallback
		s.Degraded = true
		return s.meta("reason", "kb unavailable"), nil
	}
	res, err := r.deps.KB.Run(ctx, s.Decision.Question, s.History)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		r.logger.Warn("kb workflow failed", zap.Error(err))
		s.Answer = answerFallback
		s.Degraded = true
		return s.meta("reason", err.Error()), nil
	}
	s.Answer = res.Answer
	s.Sources = res.Sources
	s.Steps = append(s.Steps, res.Steps...)
	s = s.meta("kb_route", string(res.Route))
	if !res.Guardrail.Proceed() {
		s = s.meta("guardrail", string(guardrails.DecisionEnd))
	}
	return s, nil
}

func (r *Router) knowledgeGraph(ctx context.Context, s State) (State, error) {
	if r.deps.KG == nil {
		s.Answer = answerFallback
		s.Degraded = true
		return s.meta("reason", "kg unavailable"), nil
	}
	res, err := r.deps.KG.Run(ctx, s.Decision.Question, s.History, s.Decision.Type)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		r.logger.Warn("kg workflow failed", zap.Error(err))
		s.Answer = answerFallback
		s.Degraded = true
		return s.meta("reason", err.Error()), nil
	}
	s.Answer = res.Answer
	s.Sources = res.Sources
	s.Steps = append(s.Steps, res.Steps...)
	if len(res.Outputs) > 0 {
		tools := make([]string, 0, len(res.Outputs))
		for _, o := range res.Outputs {
			tools = append(tools, o.Tool)
		}
		s = s.meta("kg_tools", tools)
	}
	if !res.Guardrail.Proceed() {
		s = s.meta("guardrail", string(guardrails.DecisionEnd))
	}
	return s, nil
}

func (r *Router) image(ctx context.Context, s State) (State, error) {
	s.Sources = []string{}
	if s.ImagePath != "" {
		return r.describeImage(ctx, s), nil
	}
	if r.deps.Images == nil {
		s.Answer = imageFallback
		s.Degraded = true
		return s, nil
	}
	url, err := r.deps.Images.GenerateImage(ctx, fmt.Sprintf(imagePromptTemplate, s.Question))
	if err != nil || url == "" {
		r.logger.Warn("image generation failed", zap.Error(err))
		s.Answer = imageFallback
		s.Degraded = true
		return s, nil
	}
	s.Answer = fmt.Sprintf("已为你生成图片：\n\n![%s](%s)", s.Question, url)
	s.Steps = append(s.Steps, "image_generation")
	return s.meta("image_url", url), nil
}

func (r *Router) describeImage(ctx context.Context, s State) State {
	img, err := loadImage(r.cfg.UploadDir, s.ImagePath, r.cfg.MaxImageBytes)
	if err != nil {
		r.logger.Warn("load image failed", zap.String("path", s.ImagePath), zap.Error(err))
		s.Answer = visionFallback
		s.Degraded = true
		return s
	}
	question := s.Question
	if question == "" {
		question = "这是什么菜？怎么做？"
	}
	msgs := []types.Message{
		types.NewSystemMessage(visionSystemPrompt),
		types.NewUserMessage(question).WithImages([]types.ImageContent{img}),
	}
	var opts []llm.CallOption
	if r.cfg.VisionModel != "" {
		opts = append(opts, llm.WithModel(r.cfg.VisionModel))
	}
	start := time.Now()
	out, err := r.deps.Model.Complete(ctx, msgs, opts...)
	r.deps.Metrics.RecordLLMRequest("vision", err, time.Since(start))
	if err != nil || strings.TrimSpace(out) == "" {
		r.logger.Warn("vision degraded", zap.Error(err))
		s.Answer = visionFallback
		s.Degraded = true
		return s
	}
	s.Answer = strings.TrimSpace(out)
	s.Steps = append(s.Steps, "image_recognition")
	return s.meta("image_path", s.ImagePath)
}

// loadImage 远程地址直接透传；本地文件必须位于上传目录内，读入后转为 base64
func loadImage(uploadDir, ref string, maxBytes int64) (types.ImageContent, error) {
	if uploads.IsRemote(ref) {
		return types.ImageContent{Type: "url", URL: ref}, nil
	}
	path, err := uploads.Resolve(uploadDir, ref)
	if err != nil {
		return types.ImageContent{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return types.ImageContent{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return types.ImageContent{}, err
	}
	if int64(len(data)) > maxBytes {
		return types.ImageContent{}, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	return types.ImageContent{Type: "base64", Data: base64.StdEncoding.EncodeToString(data)}, nil
}

func (r *Router) file(ctx context.Context, s State) (State, error) {
	s.Sources = []string{}
	if r.deps.Ingest == nil {
		s.Answer = fileFallback
		s.Degraded = true
		return s, nil
	}
	path, err := uploads.Resolve(r.cfg.UploadDir, s.FilePath)
	if err != nil {
		r.logger.Warn("file attachment rejected", zap.String("file_path", s.FilePath), zap.Error(err))
		s.Answer = fileFallback
		s.Degraded = true
		return s.meta("reason", err.Error()), nil
	}
	res, err := r.deps.Ingest.IngestFile(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		s.Answer = fileFallback
		s.Degraded = true
		return s.meta("reason", err.Error()), nil
	}
	s.Answer = res.Summary()
	s.Steps = append(s.Steps, "ingest_file")
	s = s.meta("ingest_chunks", res.Chunks)
	return s.meta("ingest_records", res.Records), nil
}

// finish 写语义缓存
func (r *Router) finish(ctx context.Context, s State) (State, error) {
	if strings.TrimSpace(s.Answer) == "" {
		s.Answer = answerFallback
		s.Degraded = true
	}
	if r.deps.Cache == nil || s.SessionID == "" || !cacheable(s) {
		return s, nil
	}
	payload, err := json.Marshal(cachedTurn{Answer: s.Answer, Route: s.Decision.Type, Logic: s.Decision.Logic, Sources: s.Sources})
	if err != nil {
		return s, nil
	}
	if err := r.deps.Cache.Store(ctx, s.SessionID, s.Question, string(payload)); err != nil {
		r.logger.Warn("semantic cache store failed", zap.Error(err))
	}
	return s, nil
}

// conversational 只保留用户与助手消息
func conversational(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}
