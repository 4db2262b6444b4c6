package extract

// extractionSystemPrompt frames the model as a knowledge graph expert. The
// source documents are Chinese engineering texts, so the prompts stay in
// Chinese; entity keys are requested in English to satisfy the schema key
// grammar.
const extractionSystemPrompt = `你是一个专业的知识图谱构建专家，擅长从技术文档中提取结构化信息。`

const extractionPrompt = `请从以下工程设计文档文本中提取实体信息，并按照 OpenSPG 的标准格式组织。

文档文本：
%s

请提取以下类型的实体：
1. 工程概念和术语
2. 设备和组件
3. 材料和物质
4. 工艺和流程
5. 标准和规范
6. 人员和组织
7. 地理位置
8. 事件和工况
9. 其他专业概念

对于每个实体，请提供：
- name: 实体名称（中文）
- english_name: 实体的英文标识符（大驼峰命名，只含字母和数字，如 SprayedConcrete）
- description: 实体描述
- category: 实体类别（从上述类型中选择最合适的）
- properties: 相关属性（属性名为键，属性描述为值）
- relations: 与其他实体的关系（关系名为键，目标实体名称为值）

请以 JSON 数组格式返回结果：
[
    {
        "name": "实体名称",
        "english_name": "EntityKey",
        "description": "实体描述",
        "category": "实体类别",
        "properties": {
            "属性名": "属性描述"
        },
        "relations": {
            "关系名": "目标实体名称"
        }
    }
]

注意：
1. 只提取在文档中明确提到的实体
2. 实体名称应该是标准化的专业术语
3. english_name 必须是英文翻译，不要使用拼音
4. 描述应该简洁明了
5. 如果文档中没有明确的实体，返回空数组 []`

// deletionPrompt asks for advisory removals only.
const deletionPrompt = `请分析以下现有实体列表，并基于提供的文档内容，建议哪些实体可能不再相关或应该被删除。

现有实体列表：
%s

文档内容样本：
%s

请以 JSON 格式返回建议删除的实体，格式如下：
[
    {
        "entity": "实体名称",
        "reason": "删除原因"
    }
]

只建议那些明显不相关或重复的实体。如果没有建议删除的实体，返回空数组 []。`
