package kg

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

var (
	dishRe        = regexp.MustCompile(`^(?:请问|我想知道|告诉我|想学|教我)?(?:一下)?(.{2,12}?)(?:要|需要|应该)?(?:怎么做|怎么烧|怎么炒|怎么煮|如何做|如何制作|的做法|做法|的步骤|步骤|需要什么|要哪些|有哪些|用什么|用哪些|的食材|的配料|的用料|的主料|的调料|的营养|的热量|的口味|是什么|的历史|的起源|多长时间|要多久|难不难|属于|是哪|和什么)`)
	ingredientRes = []*regexp.Regexp{
		regexp.MustCompile(`用(.{1,6}?)(?:和(.{1,6}?))?(?:可以|能)做`),
		regexp.MustCompile(`^(.{1,6}?)(?:和(.{1,6}?))?(?:可以|能)做(?:什么|哪些)`),
		regexp.MustCompile(`没有(.{1,6}?)(?:可以|能|用什么|怎么办)`),
		regexp.MustCompile(`^(.{1,6}?)的(?:功效|作用|好处|替代|类型)`),
		regexp.MustCompile(`放多少(.{1,6}?)(?:$|？|\?)`),
	}
	minutesRe  = regexp.MustCompile(`(\d+)\s*分钟`)
	categories = []string{"家常菜", "凉菜", "热菜", "汤羹", "汤", "主食", "甜品", "小吃", "早餐", "素菜", "荤菜", "下饭菜"}
	cuisines   = []string{"川菜", "粤菜", "鲁菜", "苏菜", "浙菜", "闽菜", "湘菜", "徽菜", "东北菜", "京菜", "本帮菜", "西北菜"}
	tastes     = []string{"麻辣", "香辣", "酸甜", "咸鲜", "酸辣", "鱼香", "甜", "辣", "酸", "鲜", "咸"}
	techniques = []string{"红烧", "清蒸", "爆炒", "干煸", "凉拌", "炖", "蒸", "煮", "炸", "烤", "炒", "焖", "卤"}
)

func firstIn(q string, vocab []string) string {
	for _, v := range vocab {
		if strings.Contains(q, v) {
			return v
		}
	}
	return ""
}

// ExtractParams 规则抽取模板参数，抽不到的参数不出现在结果中
func ExtractParams(question string, names []string) map[string]any {
	q := strings.TrimSpace(strings.TrimRight(question, "？?。！!"))
	out := map[string]any{}
	var ingredients []string
	for _, re := range ingredientRes {
		if m := re.FindStringSubmatch(q); m != nil {
			for _, g := range m[1:] {
				if g = strings.TrimSpace(g); g != "" {
					ingredients = append(ingredients, g)
				}
			}
			break
		}
	}
	for _, name := range names {
		switch name {
		case "dish":
			if m := dishRe.FindStringSubmatch(q); m != nil {
				if d := strings.TrimSpace(strings.TrimSuffix(m[1], "的")); d != "" {
					out[name] = d
				}
			}
		case "ingredient":
			if len(ingredients) > 0 {
				out[name] = ingredients[0]
			}
		case "ingredient2":
			if len(ingredients) > 1 {
				out[name] = ingredients[1]
			}
		case "category":
			if v := firstIn(q, categories); v != "" {
				out[name] = v
			}
		case "cuisine":
			if v := firstIn(q, cuisines); v != "" {
				out[name] = v
			}
		case "taste":
			if v := firstIn(q, tastes); v != "" {
				out[name] = v
			}
		case "technique":
			if v := firstIn(q, techniques); v != "" {
				out[name] = v
			}
		case "minutes":
			if m := minutesRe.FindStringSubmatch(q); m != nil {
				n, _ := strconv.Atoi(m[1])
				out[name] = n
			}
		}
	}
	return out
}

func missingParams(t Template, params map[string]any) []string {
	var missing []string
	for _, p := range t.Params {
		v, ok := params[p]
		if !ok || v == nil || strings.TrimSpace(fmt.Sprint(v)) == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

const paramSystemPrompt = `你是图谱查询参数抽取器。从用户问题中抽取模板 %s（%s）所需的参数：%s。
菜名、食材名使用标准中文名称，不要包含"的""怎么做"等多余字词；minutes 为整数。
只输出 JSON 对象，键为参数名。`

// extractParams LLM 优先，缺失参数由规则补齐
func extractParams(ctx context.Context, model llm.ChatModel, t Template, question string) (map[string]any, error) {
	if len(t.Params) == 0 {
		return map[string]any{}, nil
	}
	params := map[string]any{}
	if model != nil {
		msgs := []types.Message{
			types.NewSystemMessage(fmt.Sprintf(paramSystemPrompt, t.Name, t.Description, strings.Join(t.Params, ", "))),
			types.NewUserMessage(question),
		}
		if got, err := llm.CompleteJSON[map[string]any](ctx, model, msgs, nil, llm.WithTemperature(0)); err == nil {
			for _, p := range t.Params {
				if v, ok := got[p]; ok {
					params[p] = v
				}
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if missing := missingParams(t, params); len(missing) > 0 {
		for k, v := range ExtractParams(question, missing) {
			params[k] = v
		}
	}
	if missing := missingParams(t, params); len(missing) > 0 {
		return params, fmt.Errorf("template %s: missing parameters %v", t.Name, missing)
	}
	// JSON 数字解码为 float64，整数参数转回 int
	if v, ok := params["minutes"].(float64); ok {
		params["minutes"] = int(v)
	}
	return params, nil
}
