/*
包 guardrails 在检索或图谱查询之前判断问题是否属于烹饪领域。

判定分两层：

  - [InjectionDetector]：基于正则的提示词注入检测，命中高危模式直接结束
  - [Guard]：LLM 结构化输出 {decision, summary}；模型不可用或输出无法解析时
    退回到领域外关键词判断，默认放行

判定结果为 [DecisionEnd] 时调用方应以 Summary 作为礼貌拒答并终止本轮。
*/
package guardrails
