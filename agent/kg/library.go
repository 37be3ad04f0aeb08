package kg

// Template 预定义的参数化 Cypher 查询
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Cypher      string   `json:"cypher"`
	Params      []string `json:"params"`
}

// 图谱模型：
//
//	(:Dish {name, description, difficulty, cook_time, servings, taste, origin})
//	(:Dish)-[:HAS_INGREDIENT {amount, unit, main}]->(:Ingredient {name, type})
//	(:Dish)-[:HAS_STEP]->(:Step {order, content, duration})
//	(:Dish)-[:BELONGS_TO]->(:Category {name})
//	(:Dish)-[:CUISINE]->(:Cuisine {name, region})
//	(:Dish)-[:HAS_TASTE]->(:Taste {name})
//	(:Dish)-[:USES_TECHNIQUE]->(:Technique {name, description})
//	(:Dish)-[:HAS_NUTRIENT {value, unit}]->(:Nutrient {name})
//	(:Dish)-[:USES_TOOL]->(:Cookware {name})
//	(:Ingredient)-[:SUBSTITUTE_FOR]->(:Ingredient)
//	(:Ingredient)-[:HAS_EFFECT]->(:Effect {name})
var defaultTemplates = []Template{
	{"dish_steps", "菜品的做法步骤 怎么做 如何做 烹饪步骤 流程", `MATCH (d:Dish {name: $dish})-[:HAS_STEP]->(s:Step) RETURN s.order AS step, s.content AS content ORDER BY s.order`, []string{"dish"}},
	{"dish_ingredients", "菜品需要哪些食材 配料 用料 原料 材料 清单", `MATCH (d:Dish {name: $dish})-[r:HAS_INGREDIENT]->(i:Ingredient) RETURN i.name AS ingredient, r.amount AS amount, r.unit AS unit ORDER BY r.main DESC, i.name`, []string{"dish"}},
	{"dish_main_ingredients", "菜品的主料 主要食材", `MATCH (d:Dish {name: $dish})-[r:HAS_INGREDIENT {main: true}]->(i:Ingredient) RETURN i.name AS ingredient, r.amount AS amount, r.unit AS unit`, []string{"dish"}},
	{"dish_seasonings", "菜品的调料 调味料 佐料", `MATCH (d:Dish {name: $dish})-[r:HAS_INGREDIENT]->(i:Ingredient {type: '调料'}) RETURN i.name AS seasoning, r.amount AS amount, r.unit AS unit`, []string{"dish"}},
	{"dish_detail", "菜品的简介 介绍 详情 是什么菜", `MATCH (d:Dish {name: $dish}) RETURN d.name AS name, d.description AS description, d.difficulty AS difficulty, d.cook_time AS cook_time, d.servings AS servings`, []string{"dish"}},
	{"dish_cook_time", "菜品需要多长时间 烹饪时间 耗时 多久", `MATCH (d:Dish {name: $dish}) RETURN d.name AS name, d.cook_time AS cook_time`, []string{"dish"}},
	{"dish_difficulty", "菜品的难度 难不难 容易做吗", `MATCH (d:Dish {name: $dish}) RETURN d.name AS name, d.difficulty AS difficulty`, []string{"dish"}},
	{"dish_category", "菜品属于什么分类 类别", `MATCH (d:Dish {name: $dish})-[:BELONGS_TO]->(c:Category) RETURN c.name AS category`, []string{"dish"}},
	{"dish_cuisine", "菜品属于什么菜系 哪里的菜 地方菜", `MATCH (d:Dish {name: $dish})-[:CUISINE]->(c:Cuisine) RETURN c.name AS cuisine, c.region AS region`, []string{"dish"}},
	{"dish_taste", "菜品的口味 味道 什么味", `MATCH (d:Dish {name: $dish})-[:HAS_TASTE]->(t:Taste) RETURN t.name AS taste`, []string{"dish"}},
	{"dish_techniques", "菜品用到的烹饪技法 技巧 手法", `MATCH (d:Dish {name: $dish})-[:USES_TECHNIQUE]->(t:Technique) RETURN t.name AS technique, t.description AS description`, []string{"dish"}},
	{"dish_nutrition", "菜品的营养成分 热量 卡路里 蛋白质 脂肪", `MATCH (d:Dish {name: $dish})-[r:HAS_NUTRIENT]->(n:Nutrient) RETURN n.name AS nutrient, r.value AS value, r.unit AS unit`, []string{"dish"}},
	{"dish_cookware", "菜品需要的厨具 锅具 工具", `MATCH (d:Dish {name: $dish})-[:USES_TOOL]->(c:Cookware) RETURN c.name AS cookware`, []string{"dish"}},
	{"dish_origin", "菜品的起源 发源地 出处", `MATCH (d:Dish {name: $dish}) RETURN d.name AS name, d.origin AS origin`, []string{"dish"}},
	{"dish_step_count", "菜品一共有几个步骤 步骤数量", `MATCH (d:Dish {name: $dish})-[:HAS_STEP]->(s:Step) RETURN d.name AS name, count(s) AS steps`, []string{"dish"}},
	{"dish_ingredient_amount", "菜品中某个食材的用量 放多少", `MATCH (d:Dish {name: $dish})-[r:HAS_INGREDIENT]->(i:Ingredient {name: $ingredient}) RETURN i.name AS ingredient, r.amount AS amount, r.unit AS unit`, []string{"dish", "ingredient"}},
	{"dishes_by_ingredient", "用某个食材可以做什么菜 食材能做哪些菜", `MATCH (d:Dish)-[:HAS_INGREDIENT]->(i:Ingredient {name: $ingredient}) RETURN d.name AS dish, d.difficulty AS difficulty ORDER BY d.name LIMIT 20`, []string{"ingredient"}},
	{"dishes_by_two_ingredients", "同时用两种食材能做什么菜 搭配", `MATCH (d:Dish)-[:HAS_INGREDIENT]->(:Ingredient {name: $ingredient}), (d)-[:HAS_INGREDIENT]->(:Ingredient {name: $ingredient2}) RETURN d.name AS dish LIMIT 20`, []string{"ingredient", "ingredient2"}},
	{"dishes_by_category", "某个分类下有哪些菜 类别 推荐", `MATCH (d:Dish)-[:BELONGS_TO]->(c:Category {name: $category}) RETURN d.name AS dish, d.difficulty AS difficulty ORDER BY d.name LIMIT 20`, []string{"category"}},
	{"dishes_by_cuisine", "某个菜系有哪些代表菜 名菜", `MATCH (d:Dish)-[:CUISINE]->(c:Cuisine {name: $cuisine}) RETURN d.name AS dish ORDER BY d.name LIMIT 20`, []string{"cuisine"}},
	{"dishes_by_taste", "某种口味的菜 辣的 甜的 酸的 推荐", `MATCH (d:Dish)-[:HAS_TASTE]->(t:Taste {name: $taste}) RETURN d.name AS dish LIMIT 20`, []string{"taste"}},
	{"dishes_by_technique", "用某种技法做的菜 炒 炖 蒸 煮 烤", `MATCH (d:Dish)-[:USES_TECHNIQUE]->(t:Technique {name: $technique}) RETURN d.name AS dish LIMIT 20`, []string{"technique"}},
	{"quick_dishes", "快手菜 简单 省时 多少分钟以内能做好", `MATCH (d:Dish) WHERE d.cook_time <= $minutes RETURN d.name AS dish, d.cook_time AS cook_time ORDER BY d.cook_time LIMIT 20`, []string{"minutes"}},
	{"easy_dishes", "新手 容易 简单 入门 的菜", `MATCH (d:Dish) WHERE d.difficulty IN ['简单', '容易'] RETURN d.name AS dish, d.cook_time AS cook_time ORDER BY d.cook_time LIMIT 20`, nil},
	{"ingredient_substitutes", "食材的替代品 没有某食材可以用什么代替", `MATCH (i:Ingredient {name: $ingredient})<-[:SUBSTITUTE_FOR]-(s:Ingredient) RETURN s.name AS substitute`, []string{"ingredient"}},
	{"ingredient_effects", "食材的功效 作用 好处", `MATCH (i:Ingredient {name: $ingredient})-[:HAS_EFFECT]->(e:Effect) RETURN e.name AS effect`, []string{"ingredient"}},
	{"ingredient_type", "食材属于什么类型", `MATCH (i:Ingredient {name: $ingredient}) RETURN i.name AS ingredient, i.type AS type`, []string{"ingredient"}},
	{"similar_dishes", "和某道菜相似的菜 类似 同类", `MATCH (d:Dish {name: $dish})-[:HAS_INGREDIENT]->(i:Ingredient)<-[:HAS_INGREDIENT]-(o:Dish) WHERE o <> d RETURN o.name AS dish, count(i) AS shared ORDER BY shared DESC LIMIT 10`, []string{"dish"}},
	{"category_list", "有哪些分类 所有类别", `MATCH (c:Category) RETURN c.name AS category ORDER BY c.name`, nil},
	{"cuisine_list", "有哪些菜系 八大菜系", `MATCH (c:Cuisine) RETURN c.name AS cuisine, c.region AS region ORDER BY c.name`, nil},
	{"low_calorie_dishes", "低热量 减脂 低卡 的菜", `MATCH (d:Dish)-[r:HAS_NUTRIENT]->(:Nutrient {name: '热量'}) RETURN d.name AS dish, r.value AS calories ORDER BY r.value LIMIT 10`, nil},
}

// Library 模板库
type Library struct {
	templates []Template
	byName    map[string]Template
	index     *tfidfIndex
}

// NewLibrary 构建模板库与 TF-IDF 索引
func NewLibrary(templates []Template) *Library {
	l := &Library{templates: templates, byName: make(map[string]Template, len(templates))}
	docs := make([]string, len(templates))
	for i, t := range templates {
		l.byName[t.Name] = t
		docs[i] = t.Name + " " + t.Description
	}
	l.index = newTFIDFIndex(docs)
	return l
}

// DefaultLibrary 菜谱图谱的默认模板库
func DefaultLibrary() *Library {
	return NewLibrary(defaultTemplates)
}

// Get 按名称取模板
func (l *Library) Get(name string) (Template, bool) {
	t, ok := l.byName[name]
	return t, ok
}

// Templates 返回所有模板
func (l *Library) Templates() []Template {
	return append([]Template(nil), l.templates...)
}

// Match 检索结果
type Match struct {
	Template Template
	Score    float64
}

// Search 返回与 query 最相关的前 k 个模板，零分不返回
func (l *Library) Search(query string, k int) []Match {
	var out []Match
	for _, hit := range l.index.topK(query, k) {
		out = append(out, Match{Template: l.templates[hit.idx], Score: hit.score})
	}
	return out
}
