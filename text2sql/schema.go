package text2sql

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"gorm.io/gorm"
)

// Introspector 读取目标库的表、列与外键
type Introspector interface {
	Introspect(ctx context.Context) (types.SchemaContext, error)
}

// GormIntrospector 基于 gorm Migrator 的通用实现；外键按方言查询系统表
type GormIntrospector struct {
	open OpenFunc
}

// NewGormIntrospector 每次 Introspect 打开并释放一次引擎
func NewGormIntrospector(open OpenFunc) *GormIntrospector {
	return &GormIntrospector{open: open}
}

func (g *GormIntrospector) Introspect(ctx context.Context) (types.SchemaContext, error) {
	db, dispose, err := g.open(ctx)
	if err != nil {
		return types.SchemaContext{}, err
	}
	defer dispose()
	db = db.WithContext(ctx)

	names, err := db.Migrator().GetTables()
	if err != nil {
		return types.SchemaContext{}, fmt.Errorf("list tables: %w", err)
	}
	sort.Strings(names)

	var sc types.SchemaContext
	for _, name := range names {
		if strings.HasPrefix(name, "sqlite_") || name == "schema_migrations" {
			continue
		}
		cols, err := db.Migrator().ColumnTypes(name)
		if err != nil {
			return types.SchemaContext{}, fmt.Errorf("columns of %s: %w", name, err)
		}
		ti := types.TableInfo{Name: name}
		for _, c := range cols {
			ci := types.ColumnInfo{Name: c.Name(), Type: strings.ToLower(c.DatabaseTypeName())}
			if pk, ok := c.PrimaryKey(); ok && pk {
				ci.Flags = append(ci.Flags, "pk")
			}
			if null, ok := c.Nullable(); ok && null {
				ci.Flags = append(ci.Flags, "nullable")
			}
			if comment, ok := c.Comment(); ok && comment != "" {
				ci.Description = comment
			}
			ti.Columns = append(ti.Columns, ci)
		}
		sc.Tables = append(sc.Tables, ti)
	}

	rels, err := foreignKeys(db, names)
	if err != nil {
		return types.SchemaContext{}, err
	}
	sc.Relationships = rels
	markFK(&sc)
	return sc, nil
}

func foreignKeys(db *gorm.DB, tables []string) ([]types.Relationship, error) {
	var rels []types.Relationship
	switch db.Dialector.Name() {
	case "sqlite":
		for _, t := range tables {
			var rows []struct {
				Table string `gorm:"column:table"`
				From  string `gorm:"column:from"`
				To    string `gorm:"column:to"`
			}
			if err := db.Raw(fmt.Sprintf("PRAGMA foreign_key_list(%q)", t)).Scan(&rows).Error; err != nil {
				return nil, fmt.Errorf("foreign keys of %s: %w", t, err)
			}
			for _, r := range rows {
				rels = append(rels, types.Relationship{SrcTable: t, SrcCol: r.From, TgtTable: r.Table, TgtCol: r.To, Kind: "fk"})
			}
		}
	case "mysql":
		err := db.Raw(`SELECT TABLE_NAME AS src_table, COLUMN_NAME AS src_col,
       REFERENCED_TABLE_NAME AS tgt_table, REFERENCED_COLUMN_NAME AS tgt_col, 'fk' AS kind
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL`).Scan(&rels).Error
		if err != nil {
			return nil, fmt.Errorf("foreign keys: %w", err)
		}
	case "postgres":
		err := db.Raw(`SELECT tc.table_name AS src_table, kcu.column_name AS src_col,
       ccu.table_name AS tgt_table, ccu.column_name AS tgt_col, 'fk' AS kind
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = current_schema()`).Scan(&rels).Error
		if err != nil {
			return nil, fmt.Errorf("foreign keys: %w", err)
		}
	}
	return rels, nil
}

func markFK(sc *types.SchemaContext) {
	fk := map[string]bool{}
	for _, r := range sc.Relationships {
		fk[strings.ToLower(r.SrcTable+"."+r.SrcCol)] = true
	}
	for ti := range sc.Tables {
		t := &sc.Tables[ti]
		for ci := range t.Columns {
			if fk[strings.ToLower(t.Name+"."+t.Columns[ci].Name)] {
				t.Columns[ci].Flags = append(t.Columns[ci].Flags, "fk")
			}
		}
	}
}

// TableGloss 领域词汇：表描述、别名与列描述
type TableGloss struct {
	Description string            `json:"description" yaml:"description"`
	Aliases     []string          `json:"aliases" yaml:"aliases"`
	Columns     map[string]string `json:"columns" yaml:"columns"`
}

// Glossary 静态领域词汇表，与实时 schema 合并
type Glossary struct {
	Tables        map[string]TableGloss `json:"tables" yaml:"tables"`
	Relationships []types.Relationship  `json:"relationships" yaml:"relationships"`
}

// DefaultGlossary 菜谱库的默认词汇
func DefaultGlossary() Glossary {
	return Glossary{
		Tables: map[string]TableGloss{
			"recipes": {
				Description: "菜谱/菜品，每行一道菜",
				Aliases:     []string{"菜谱", "菜品", "菜", "道菜", "菜肴", "recipe", "dish"},
				Columns: map[string]string{
					"name": "菜名", "category_id": "所属分类", "cuisine": "菜系", "difficulty": "难度",
					"cook_time": "烹饪时间（分钟）", "servings": "份量", "calories": "热量",
				},
			},
			"ingredients": {
				Description: "食材",
				Aliases:     []string{"食材", "原料", "配料", "材料", "ingredient"},
				Columns:     map[string]string{"name": "食材名", "type": "食材类型"},
			},
			"recipe_ingredients": {
				Description: "菜谱与食材的用量关系",
				Aliases:     []string{"用量", "用料", "配比"},
				Columns:     map[string]string{"amount": "用量", "unit": "单位"},
			},
			"categories": {
				Description: "菜品分类",
				Aliases:     []string{"分类", "类别", "菜系", "category"},
				Columns:     map[string]string{"name": "分类名"},
			},
			"cooking_steps": {
				Description: "烹饪步骤",
				Aliases:     []string{"步骤", "做法", "工序"},
				Columns:     map[string]string{"step_no": "步骤序号", "content": "步骤内容"},
			},
			"nutrition": {
				Description: "营养成分",
				Aliases:     []string{"营养", "蛋白质", "脂肪", "碳水"},
			},
		},
		Relationships: []types.Relationship{
			{SrcTable: "recipes", SrcCol: "category_id", TgtTable: "categories", TgtCol: "id", Kind: "many_to_one"},
			{SrcTable: "recipe_ingredients", SrcCol: "recipe_id", TgtTable: "recipes", TgtCol: "id", Kind: "many_to_one"},
			{SrcTable: "recipe_ingredients", SrcCol: "ingredient_id", TgtTable: "ingredients", TgtCol: "id", Kind: "many_to_one"},
			{SrcTable: "cooking_steps", SrcCol: "recipe_id", TgtTable: "recipes", TgtCol: "id", Kind: "many_to_one"},
			{SrcTable: "nutrition", SrcCol: "recipe_id", TgtTable: "recipes", TgtCol: "id", Kind: "one_to_one"},
		},
	}
}

// Merge 把词汇描述合并进实时 schema；只补充实际存在的表与列之间的关系
func (g Glossary) Merge(sc types.SchemaContext) types.SchemaContext {
	out := types.SchemaContext{Tables: make([]types.TableInfo, len(sc.Tables))}
	for i, t := range sc.Tables {
		t.Columns = append([]types.ColumnInfo(nil), t.Columns...)
		if gl, ok := g.Tables[strings.ToLower(t.Name)]; ok {
			if t.Description == "" {
				t.Description = gl.Description
			}
			for ci := range t.Columns {
				if t.Columns[ci].Description == "" {
					t.Columns[ci].Description = gl.Columns[strings.ToLower(t.Columns[ci].Name)]
				}
			}
		}
		out.Tables[i] = t
	}

	seen := map[string]bool{}
	key := func(r types.Relationship) string {
		return strings.ToLower(r.SrcTable + "." + r.SrcCol + ">" + r.TgtTable + "." + r.TgtCol)
	}
	for _, r := range sc.Relationships {
		seen[key(r)] = true
		out.Relationships = append(out.Relationships, r)
	}
	for _, r := range g.Relationships {
		if seen[key(r)] || !hasColumn(out, r.SrcTable, r.SrcCol) || !hasColumn(out, r.TgtTable, r.TgtCol) {
			continue
		}
		seen[key(r)] = true
		out.Relationships = append(out.Relationships, r)
	}
	return out
}

func hasColumn(sc types.SchemaContext, table, col string) bool {
	t, ok := sc.Table(table)
	if !ok {
		return false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, col) {
			return true
		}
	}
	return false
}

// SelectTables 按问题的关键词命中给表打分并保留前 topN 张；
// 没有任何命中时保留全部表。关系只保留两端都在结果中的。
func (g Glossary) SelectTables(sc types.SchemaContext, question string, topN int) types.SchemaContext {
	q := strings.ToLower(question)
	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, t := range sc.Tables {
		s := g.scoreTable(t, q)
		if s > 0 {
			hits = append(hits, scored{i, s})
		}
	}
	if len(hits) == 0 {
		return sc
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].idx < hits[b].idx })

	keep := map[string]bool{}
	out := types.SchemaContext{}
	for _, h := range hits {
		t := sc.Tables[h.idx]
		out.Tables = append(out.Tables, t)
		keep[strings.ToLower(t.Name)] = true
	}
	for _, r := range sc.Relationships {
		if keep[strings.ToLower(r.SrcTable)] && keep[strings.ToLower(r.TgtTable)] {
			out.Relationships = append(out.Relationships, r)
		}
	}
	return out
}

func (g Glossary) scoreTable(t types.TableInfo, q string) int {
	score := 0
	name := strings.ToLower(t.Name)
	if strings.Contains(q, name) || strings.Contains(q, strings.TrimSuffix(name, "s")) {
		score += 5
	}
	gl := g.Tables[name]
	for _, a := range gl.Aliases {
		if a != "" && strings.Contains(q, strings.ToLower(a)) {
			score += 3
		}
	}
	if t.Description != "" && strings.Contains(q, strings.ToLower(t.Description)) {
		score += 2
	}
	for _, c := range t.Columns {
		cn := strings.ToLower(c.Name)
		if len(cn) > 2 && strings.Contains(q, cn) {
			score++
		}
		if c.Description != "" && strings.Contains(q, strings.ToLower(c.Description)) {
			score++
		}
	}
	return score
}
