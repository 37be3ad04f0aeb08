package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jhlu2019/GustoBot-sub000/agent/guardrails"
	"github.com/jhlu2019/GustoBot-sub000/agent/kb"
	"github.com/jhlu2019/GustoBot-sub000/agent/kg"
	"github.com/jhlu2019/GustoBot-sub000/internal/cache"
	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/testutil"
	"github.com/jhlu2019/GustoBot-sub000/testutil/mocks"
	"github.com/jhlu2019/GustoBot-sub000/text2sql"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fixture 端到端测试环境：真实的 KB / KG / text2sql 子图，外部能力全部替换为模拟实现
type fixture struct {
	model *mocks.MockModel
	sv    *mocks.MockRetriever
	mv    *mocks.MockRetriever
	graph *mocks.MockGraph
	deps  Deps
	// 上传目录，本地附件只能从这里读
	uploads string
}

func doc(id, content string, score float64) types.Document {
	return types.Document{ID: id, Content: content, Score: score, Source: id}
}

func seedRecipes(t *testing.T) text2sql.OpenFunc {
	t.Helper()
	open := text2sql.Opener("sqlite", filepath.Join(t.TempDir(), "recipes.db"))
	db, dispose, err := open(context.Background())
	require.NoError(t, err)
	defer dispose()
	for _, s := range []string{
		`CREATE TABLE recipes (id INTEGER PRIMARY KEY, name TEXT NOT NULL, cook_time INTEGER)`,
		`INSERT INTO recipes (name, cook_time) VALUES ('红烧肉', 90), ('宫保鸡丁', 25), ('番茄炒蛋', 10)`,
	} {
		require.NoError(t, db.Exec(s).Error)
	}
	return open
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		model:   mocks.NewMockModel(),
		uploads: t.TempDir(),
		sv:      mocks.NewMockRetriever(types.ToolSV),
		mv:      mocks.NewMockRetriever(types.ToolMV),
		graph: (&mocks.MockGraph{}).On("HAS_STEP",
			map[string]any{"step": int64(1), "content": "五花肉切块焯水"},
			map[string]any{"step": int64(2), "content": "炒糖色后下肉翻炒"},
			map[string]any{"step": int64(3), "content": "加水小火炖一小时"},
		),
	}
	// 护栏：股票类问题拒绝，其余放行
	f.model.OnSystemAndUser("安全审查员", "股票", `{"decision":"end","summary":"抱歉，我只回答烹饪相关的问题。"}`).
		OnSystem("安全审查员", `{"decision":"proceed"}`)
	guard := guardrails.New(f.model, guardrails.Config{OutOfScopeKeywords: []string{"股票"}}, zap.NewNop())

	kbGraph, err := kb.New(kb.Deps{Model: f.model, Guard: guard, SV: f.sv, MV: f.mv},
		kb.Config{TopK: 3, SimilarityThreshold: 0.5, SVSimilarityThreshold: 0.6}, zap.NewNop())
	require.NoError(t, err)

	open := seedRecipes(t)
	pipeline, err := text2sql.NewPipeline(f.model, text2sql.NewGormIntrospector(open),
		text2sql.NewExecutor(open, 5*time.Second, 0, zap.NewNop()), text2sql.Config{}, zap.NewNop())
	require.NoError(t, err)

	kgAgent, err := kg.New(kg.Deps{Model: f.model, Graph: f.graph, SQL: pipeline}, kg.Config{
		StatisticalKeywords: []string{"多少", "统计"},
		DescriptiveKeywords: []string{"口味", "营养"},
		Cypher:              kg.CypherOptions{MaxAttempts: 2},
	}, zap.NewNop())
	require.NoError(t, err)

	f.deps = Deps{Model: f.model, Guard: guard, KB: kbGraph, KG: kgAgent}
	return f
}

func (f *fixture) route(userSubstr string, d string) *fixture {
	f.model.OnSystemAndUser("问题路由器", userSubstr, d)
	return f
}

func (f *fixture) run(t *testing.T, req Request) *Response {
	t.Helper()
	r, err := New(f.deps, Config{UploadDir: f.uploads}, zap.NewNop())
	require.NoError(t, err)
	res, err := r.Run(testutil.TestContext(t), req)
	require.NoError(t, err)
	return res
}

func (f *fixture) retrievals() int {
	return f.sv.Calls() + f.mv.Calls() + len(f.graph.Statements())
}

func TestScenario_Chitchat(t *testing.T) {
	f := newFixture(t).route("你好", `{"type":"chat","logic":"问候","question":"你好"}`)
	f.model.OnSystem("亲切", "你好呀！今天想做点什么好吃的？")

	res := f.run(t, Request{Message: "你好"})
	assert.Equal(t, types.RouteChat, res.Route)
	assert.Contains(t, res.Answer, "你好")
	assert.Empty(t, res.Sources)
	assert.NotNil(t, res.Sources)
	assert.Zero(t, f.retrievals())
	assert.Equal(t, SourceLLM, res.Metadata["route_source"])
}

func TestScenario_ChitchatTemplateWhenModelDown(t *testing.T) {
	f := newFixture(t).route("你好", `{"type":"chat","logic":"问候"}`)

	res := f.run(t, Request{Message: "你好"})
	assert.Equal(t, types.RouteChat, res.Route)
	assert.Equal(t, greetingFallback, res.Answer)
}

func TestScenario_Clarify(t *testing.T) {
	f := newFixture(t).route("我想做菜", `{"type":"clarify","logic":"缺少菜名"}`)
	f.model.OnSystem("信息不足", "好呀！你想做哪道菜，或者手头有哪些食材呢？")

	res := f.run(t, Request{Message: "我想做菜"})
	assert.Equal(t, types.RouteClarify, res.Route)
	assert.Contains(t, res.Answer, "哪道菜")
	assert.Empty(t, res.Sources)
	assert.Zero(t, f.retrievals())
	assert.Equal(t, 1, f.model.CountSystem("安全审查员"))
}

func TestScenario_KBHistory(t *testing.T) {
	f := newFixture(t).route("宫保鸡丁", `{"type":"kb","logic":"历史典故"}`)
	f.model.OnSystem("检索路由器", `{"route":"local","tools":["sv","mv"]}`).
		OnSystem("基于检索证据", "宫保鸡丁得名于清代丁宝桢 [SV#1]")
	f.sv.Docs = []types.Document{doc("recipes:12", "宫保鸡丁得名于丁宝桢，其官衔为太子少保", 0.88).WithTool(types.ToolSV)}
	f.mv.Docs = []types.Document{doc("mv-1", "语义片段", 0.9).WithTool(types.ToolMV)}

	res := f.run(t, Request{Message: "宫保鸡丁的历史典故是什么"})
	assert.Equal(t, types.RouteKB, res.Route)
	assert.Equal(t, 1, f.sv.Calls())
	assert.Zero(t, f.mv.Calls())
	assert.Contains(t, res.Answer, "[SV#1]")
	assert.Equal(t, []string{"recipes:12"}, res.Sources)
	assert.Equal(t, "local", res.Metadata["kb_route"])
}

func TestScenario_KBFallbackToMV(t *testing.T) {
	f := newFixture(t).route("北京烤鸭", `{"type":"kb","logic":"工艺介绍"}`)
	f.model.OnSystem("检索路由器", `{"route":"local","tools":["sv","mv"]}`).
		OnSystem("基于检索证据", "北京烤鸭采用挂炉烤制 [MV#1]")
	f.sv.Docs = []types.Document{doc("recipes:3", "弱相关", 0.2).WithTool(types.ToolSV)}
	f.mv.Docs = []types.Document{doc("mv-7", "挂炉烤鸭需果木明火", 0.8).WithTool(types.ToolMV)}

	res := f.run(t, Request{Message: "北京烤鸭的制作工艺"})
	assert.Equal(t, types.RouteKB, res.Route)
	assert.Equal(t, 1, f.sv.Calls())
	assert.Equal(t, 1, f.mv.Calls())
	assert.Contains(t, res.Answer, "[MV#1]")
	assert.Equal(t, []string{"mv-7"}, res.Sources)
}

func TestScenario_KGTemplate(t *testing.T) {
	f := newFixture(t).route("红烧肉", `{"type":"kg","logic":"做法步骤"}`)

	res := f.run(t, Request{Message: "红烧肉怎么做"})
	assert.Equal(t, types.RouteKG, res.Route)
	assert.Equal(t, []string{kg.ToolPredefinedCypher}, res.Metadata["kg_tools"])
	assert.Contains(t, res.Answer, "1. 五花肉切块焯水")
	assert.Less(t, strings.Index(res.Answer, "1."), strings.Index(res.Answer, "3."))
	assert.NotEmpty(t, res.Sources)
}

func TestScenario_Text2SQLViaHeuristic(t *testing.T) {
	// 路由模型无输出，关键词「多少」命中统计类
	f := newFixture(t)
	f.model.OnSystem("SQL 查询分析", `{"intent":"统计菜谱数量","tables":["recipes"],"aggregation":"count"}`).
		OnSystem("SQL 生成", "```sql\nSELECT COUNT(*) FROM recipes;\n```").
		OnSystem("结果解读", "数据库里一共有 3 道菜。")

	res := f.run(t, Request{Message: "数据库里有多少道菜"})
	assert.Equal(t, types.RouteText2SQL, res.Route)
	assert.Equal(t, SourceHeuristic, res.Metadata["route_source"])
	assert.Equal(t, []string{kg.ToolText2SQLQuery}, res.Metadata["kg_tools"])
	assert.Contains(t, res.Answer, "3")
	assert.Equal(t, []string{types.ToolSQL}, res.Sources)
}

func TestScenario_GuardrailRefusal(t *testing.T) {
	f := newFixture(t)
	f.sv.Docs = []types.Document{doc("sv-1", "x", 0.9).WithTool(types.ToolSV)}

	res := f.run(t, Request{Message: "推荐一只股票"})
	assert.Equal(t, "end", res.Metadata["guardrail"])
	assert.Contains(t, res.Answer, "烹饪")
	assert.Empty(t, res.Sources)
	assert.Zero(t, f.retrievals())
}

func TestGuardrail_BeforeKGFamily(t *testing.T) {
	f := newFixture(t).route("股票", `{"type":"text2sql","logic":"统计"}`)

	res := f.run(t, Request{Message: "统计一下今天涨得最多的股票"})
	// 路由保留原始结果，护栏结论写入 metadata
	assert.Equal(t, types.RouteText2SQL, res.Route)
	assert.Equal(t, "end", res.Metadata["guardrail"])
	assert.Zero(t, f.retrievals())
	assert.Zero(t, f.model.CountSystem("SQL 生成"))
}

func TestReject(t *testing.T) {
	f := newFixture(t).route("炸药", `{"type":"reject","logic":"危险内容"}`)

	res := f.run(t, Request{Message: "怎么做炸药"})
	assert.Equal(t, types.RouteReject, res.Route)
	assert.Equal(t, guardrails.DefaultRefusal, res.Answer)
	assert.Zero(t, f.retrievals())
	assert.Zero(t, f.model.CountSystem("安全审查员"))
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		q    string
		want types.RouteType
	}{
		{"数据库里有多少道菜", types.RouteText2SQL},
		{"川菜排名前十", types.RouteText2SQL},
		{"Count the dishes", types.RouteText2SQL},
		{"红烧肉怎么做", types.RouteKG},
		{"鱼香肉丝需要哪些食材", types.RouteKG},
		{"宫保鸡丁的历史", types.RouteKB},
		{"", types.RouteKB},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, Heuristic(tt.q, Config{}).Type)
		})
	}
}

func TestDecide_Overrides(t *testing.T) {
	images := &mocks.MockImageGenerator{URL: "https://img.example.com/1.png"}

	t.Run("file path wins", func(t *testing.T) {
		f := newFixture(t)
		f.deps.Images = images
		res := f.run(t, Request{Message: "帮我画一张图", FilePath: "/tmp/a.csv"})
		assert.Equal(t, types.RouteFile, res.Route)
		assert.Equal(t, fileFallback, res.Answer)
	})

	t.Run("generation keyword", func(t *testing.T) {
		f := newFixture(t)
		f.deps.Images = images
		res := f.run(t, Request{Message: "帮我画一张红烧肉"})
		assert.Equal(t, types.RouteImage, res.Route)
		assert.Equal(t, SourceOverride, res.Metadata["route_source"])
		assert.Contains(t, res.Answer, "https://img.example.com/1.png")
		assert.Zero(t, f.model.CountSystem("问题路由器"))
	})

	t.Run("keyword ignored without generator", func(t *testing.T) {
		f := newFixture(t)
		res := f.run(t, Request{Message: "生成一份红烧肉做法"})
		assert.NotEqual(t, types.RouteImage, res.Route)
	})

	t.Run("model file route without upload", func(t *testing.T) {
		f := newFixture(t).route("上传", `{"type":"file","logic":"文件"}`)
		res := f.run(t, Request{Message: "我上传的菜谱怎么样"})
		assert.Equal(t, types.RouteKB, res.Route)
		assert.Equal(t, SourceHeuristic, res.Metadata["route_source"])
	})
}

func TestImage_VisionSendsBase64(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.uploads, "dish.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o600))

	f.model.WhenFunc(func(msgs []types.Message) bool {
		return strings.Contains(msgs[0].Content, "大致做法")
	}, func(msgs []types.Message) (string, error) {
		last := msgs[len(msgs)-1]
		if len(last.Images) != 1 || last.Images[0].Type != "base64" || last.Images[0].Data == "" {
			return "", errors.New("image missing")
		}
		return "这是一盘红烧肉。", nil
	})

	res := f.run(t, Request{Message: "这是什么菜", ImagePath: path})
	assert.Equal(t, types.RouteImage, res.Route)
	assert.Equal(t, "这是一盘红烧肉。", res.Answer)
	assert.Equal(t, path, res.Metadata["image_path"])
}

func TestImage_Degrades(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, Request{Message: "这是什么", ImagePath: filepath.Join(f.uploads, "missing.png")})
	assert.Equal(t, visionFallback, res.Answer)

	f = newFixture(t)
	f.deps.Images = &mocks.MockImageGenerator{Err: errors.New("quota")}
	res = f.run(t, Request{Message: "画一张宫保鸡丁"})
	assert.Equal(t, imageFallback, res.Answer)
}

type stubIngester struct {
	paths []string
	err   error
}

func (s *stubIngester) IngestFile(_ context.Context, path string) (*rag.IngestResult, error) {
	s.paths = append(s.paths, path)
	if s.err != nil {
		return nil, s.err
	}
	return &rag.IngestResult{Success: true, Filename: filepath.Base(path), Records: 4}, nil
}

func TestFile_Ingest(t *testing.T) {
	f := newFixture(t)
	ing := &stubIngester{}
	f.deps.Ingest = ing

	path := filepath.Join(f.uploads, "menu.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,category\n红烧肉,家常菜\n"), 0o600))
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)

	res := f.run(t, Request{Message: "帮我导入", FilePath: path})
	assert.Equal(t, types.RouteFile, res.Route)
	assert.Equal(t, []string{resolved}, ing.paths)
	assert.Contains(t, res.Answer, "menu.csv")
	assert.Equal(t, 4, res.Metadata["ingest_records"])

	ing.err = errors.New("503")
	res = f.run(t, Request{Message: "再导入一次", FilePath: path})
	assert.Equal(t, fileFallback, res.Answer)
}

// 上传目录之外的本地文件既不读取也不转发
func TestAttachments_OutsideUploadDirRejected(t *testing.T) {
	secret := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(secret, []byte("GUSTOBOT_LLM_API_KEY=sk-secret"), 0o600))

	f := newFixture(t)
	var leaked bool
	f.model.WhenFunc(func(msgs []types.Message) bool {
		return strings.Contains(msgs[0].Content, "大致做法")
	}, func(msgs []types.Message) (string, error) {
		leaked = true
		return "不该被调用", nil
	})
	res := f.run(t, Request{Message: "这是什么菜", ImagePath: secret})
	assert.Equal(t, types.RouteImage, res.Route)
	assert.Equal(t, visionFallback, res.Answer)
	assert.False(t, leaked)

	ing := &stubIngester{}
	f.deps.Ingest = ing
	res = f.run(t, Request{Message: "导入", FilePath: filepath.Join(f.uploads, "..", "..", ".env")})
	assert.Equal(t, fileFallback, res.Answer)
	assert.Empty(t, ing.paths)

	// 符号链接逃逸
	link := filepath.Join(f.uploads, "menu.csv")
	require.NoError(t, os.Symlink(secret, link))
	res = f.run(t, Request{Message: "导入", FilePath: link})
	assert.Equal(t, fileFallback, res.Answer)
	assert.Empty(t, ing.paths)
}

func TestMemoryWindow(t *testing.T) {
	f := newFixture(t).route("你好", `{"type":"chat","logic":"问候"}`)
	f.model.OnSystem("亲切", "你好！")
	history := []types.Message{
		types.NewUserMessage("第一轮"), types.NewAssistantMessage("a1"),
		types.NewUserMessage("第二轮"), types.NewAssistantMessage("a2"),
		types.NewUserMessage("第三轮"), types.NewAssistantMessage("a3"),
	}

	r, err := New(f.deps, Config{MemoryTurns: 1}, nil)
	require.NoError(t, err)
	_, err = r.Run(testutil.TestContext(t), Request{Message: "你好", History: history})
	require.NoError(t, err)

	first := f.model.Calls()[0]
	var contents []string
	for _, m := range first[1:] {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"第三轮", "a3", "你好"}, contents)
}

func TestSemanticCache_HitSkipsRetrieval(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t).route("宫保鸡丁", `{"type":"kb","logic":"历史"}`)
	f.model.OnSystem("检索路由器", `{"route":"local","tools":["sv"]}`).
		OnSystem("基于检索证据", "宫保鸡丁得名于丁宝桢 [SV#1]")
	f.sv.Docs = []types.Document{doc("recipes:12", "宫保鸡丁得名于丁宝桢", 0.9).WithTool(types.ToolSV)}
	f.deps.Cache = cache.NewSemanticCache(rdb, &mocks.HashEmbedder{Dim: 32}, cache.SemanticConfig{}, nil)

	req := Request{SessionID: "s-1", Message: "宫保鸡丁的历史典故是什么"}
	first := f.run(t, req)
	assert.Nil(t, first.Metadata["cache_hit"])

	second := f.run(t, req)
	assert.Equal(t, true, second.Metadata["cache_hit"])
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, types.RouteKB, second.Route)
	assert.Equal(t, 1, f.sv.Calls())

	// 其他会话不共享缓存
	other := f.run(t, Request{SessionID: "s-2", Message: req.Message})
	assert.Nil(t, other.Metadata["cache_hit"])
	assert.Equal(t, 2, f.sv.Calls())
}

func TestSemanticCache_RefusalsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t)
	sc := cache.NewSemanticCache(rdb, &mocks.HashEmbedder{Dim: 32}, cache.SemanticConfig{}, nil)
	f.deps.Cache = sc

	f.run(t, Request{SessionID: "s-1", Message: "推荐一只股票"})
	n, err := sc.Len(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

type panickingKB struct{}

func (panickingKB) Run(context.Context, string, []types.Message) (*kb.Result, error) {
	panic("nil map")
}

func TestNodePanicDegrades(t *testing.T) {
	f := newFixture(t).route("宫保鸡丁", `{"type":"kb","logic":"历史"}`)
	f.deps.KB = panickingKB{}

	res := f.run(t, Request{Message: "宫保鸡丁的历史"})
	assert.Equal(t, types.RouteKB, res.Route)
	assert.Equal(t, answerFallback, res.Answer)
	assert.Contains(t, res.Metadata["reason"], "nil map")
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t)
	r, err := New(f.deps, Config{}, nil)
	require.NoError(t, err)
	_, err = r.Run(testutil.CancelledContext(), Request{Message: "你好"})
	assert.Error(t, err)
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	assert.Error(t, err)
}

// 任意输入、任意模型输出下，路由结果总在路由集合内
func TestRoutingTotality(t *testing.T) {
	replies := []string{
		"", "not json", `{"type":"weather"}`, `{"type":"KG","logic":"x"}`,
		`{"type":"general-query"}`, `{"type":"image"}`, `{"type":"file"}`, `{"type":"reject"}`,
		`{"type":"clarify"}`, `{"type":"text2sql"}`,
	}
	rapid.Check(t, func(rt *rapid.T) {
		msg := rapid.String().Draw(rt, "message")
		reply := rapid.SampledFrom(replies).Draw(rt, "reply")
		withImage := rapid.Bool().Draw(rt, "image")

		model := mocks.NewMockModel().OnSystem("问题路由器", reply)
		r, err := New(Deps{Model: model}, Config{}, nil)
		require.NoError(rt, err)

		req := Request{Message: msg}
		if withImage {
			req.ImagePath = "https://img.example.com/x.png"
		}
		res, err := r.Run(context.Background(), req)
		require.NoError(rt, err)
		assert.True(rt, res.Route.Valid(), "route %q", res.Route)
		assert.NotEmpty(rt, res.Answer)
		assert.NotNil(rt, res.Sources)
	})
}
