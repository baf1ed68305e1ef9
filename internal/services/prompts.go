package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"concurseiro-backend/internal/models"
)

const (
	maxResearchChars      = 50000
	maxStudyMaterialChars = 50000
	maxExpandTailChars    = 2000
	maxTutorContextChars  = 3000
)

func buildExamAnalysisPrompt(examName string) string {
	return fmt.Sprintf(`ATUAÇÃO: Auditor Especialista em Editais de Concursos Públicos.
TAREFA: Analisar com PRECISÃO TÉCNICA o concurso: "%s".

INSTRUÇÕES DE PESQUISA:
1. Localize o EDITAL MAIS RECENTE ou o EDITAL ANTERIOR se o atual não saiu.
2. Identifique a BANCA EXAMINADORA correta.
3. Liste os CARGOS com exatidão.

SAÍDA JSON OBRIGATÓRIA:
{
  "title": "Nome Oficial Completo",
  "organization": "Banca (ex: Cebraspe, FGV)",
  "estimatedVacancies": "Total de vagas",
  "registrationPeriod": "Datas ou 'A definir'",
  "fee": "Valor ou 'A definir'",
  "examDate": "Data ou 'A definir'",
  "summary": "Resumo executivo sobre o concurso e oportunidades.",
  "previousContestAnalysis": "Mudanças no estilo da banca, matérias novas e nível de dificuldade esperado.",
  "availableRoles": ["Cargo 1", "Cargo 2"],
  "subjects": [
    {"name": "Nome da Matéria", "importance": "Alta" | "Média" | "Baixa", "topics": ["Tópico 1", "Tópico 2"], "questionCount": "Estimativa"}
  ],
  "strategies": [
    {"phase": "Pré-Edital", "advice": "Dica estratégica"},
    {"phase": "Pós-Edital", "advice": "Dica de reta final"}
  ]
}`, examName)
}

func buildSubjectsResearchPrompt(examTitle, organization, role string) string {
	return fmt.Sprintf(`ATUAÇÃO: Especialista Técnico em Mapeamento de Editais.

CONTEXTO:
- Concurso: "%s"
- Banca: "%s"
- CARGO ALVO: "%s"

MISSÃO:
Pesquise e retorne o Conteúdo Programático COMPLETO e DETALHADO para este cargo específico.
Copie os tópicos de cada matéria conforme o edital.

IMPORTANTE:
- Identifique se é Nível Médio ou Superior.
- Liste todas as matérias e seus tópicos internos.
- Não formate em JSON ainda, apenas traga o texto estruturado e legível.`, examTitle, organization, role)
}

func buildSubjectsStructurePrompt(research, role string) string {
	return fmt.Sprintf(`Você é um formatador de dados estrito.

Transforme o texto abaixo (Conteúdo Programático de Concurso) em um JSON Array estruturado.

TEXTO BASE:
"""
%s
"""

REGRAS:
1. Extraia cada disciplina como um objeto {"name", "importance", "topics", "questionCount"}.
2. "importance": estime "Alta", "Média" ou "Baixa" com base na relevância típica para o cargo %s.
3. "topics": lista de strings com os tópicos detalhados.
4. "questionCount": estimativa (ex: "10 questões").`, head(research, maxResearchChars), role)
}

func buildEnhanceTopicsPrompt(exam *models.ExamData, subject string, current []string) string {
	currentJSON, _ := json.Marshal(current)

	var b strings.Builder
	b.WriteString("ATUE COMO UM CAÇADOR DE TÓPICOS EM EDITAIS.\n\n")
	b.WriteString("CONTEXTO:\n")
	fmt.Fprintf(&b, "- Concurso: %s\n", exam.Title)
	fmt.Fprintf(&b, "- Banca: %s\n", exam.Organization)
	if exam.SelectedRole != "" {
		fmt.Fprintf(&b, "- Cargo: %s\n", exam.SelectedRole)
	}
	fmt.Fprintf(&b, "- Disciplina Alvo: %q\n\n", subject)
	fmt.Fprintf(&b, "LISTA ATUAL DE TÓPICOS QUE JÁ TEMOS:\n%s\n\n", currentJSON)
	fmt.Fprintf(&b, `SUA MISSÃO:
1. Pesquise no edital oficial o que está FALTANDO nesta lista para a matéria de %q.
2. Encontre tópicos específicos, leis ou subtemas esquecidos na primeira análise.
3. Se a lista atual já estiver completa, retorne um array vazio.
4. NÃO retorne tópicos que já estão na lista.

SAÍDA OBRIGATÓRIA:
Retorne APENAS um JSON Array de strings (ex: ["Tópico X", "Tópico Y"]), sem Markdown.`, subject)
	return b.String()
}

func buildBlueprintPrompt(examTitle, organization, role string, totalQuestions int) string {
	return fmt.Sprintf(`Você é o Coordenador Pedagógico do concurso "%s" para o cargo de "%s".

PESQUISE AGORA:
1. O último edital ou o edital atual para este cargo específico.
2. A estrutura EXATA da prova (quantas questões de cada disciplina).
3. O estilo da banca "%s" nas provas recentes para este cargo.

Crie um BLUEPRINT (plano de distribuição) para um simulado de %d questões que seja IDÊNTICO à prova real.

SAÍDA OBRIGATÓRIA (texto simples):
ESTRUTURA DA PROVA:
- Matéria A: X questões (Foco em: tópicos recorrentes)
- Matéria B: Y questões (Foco em: ...)

ESTILO DA BANCA:
- Nível de dificuldade: ...
- Tipo de enunciado: ...
- Pegadinhas comuns: ...`, examTitle, role, organization, totalQuestions)
}

// SimulationParams carries the optional context that picks the question
// generation prompt and model tier.
type SimulationParams struct {
	ExamContext  string
	Count        int
	Topic        string
	StudyContent string
	Subjects     []models.Subject
	Organization string
	Role         string
	Blueprint    string
}

// FullExam reports whether the request is for a whole mock exam spread over
// every subject rather than a single topic.
func (p SimulationParams) FullExam() bool {
	return p.StudyContent == "" && p.Topic == models.DefaultTopic && len(p.Subjects) > 0
}

// buildSimulationPrompt returns the prompt and the tier that should serve it.
// Study material and full exams go to the precision model.
func buildSimulationPrompt(p SimulationParams) (string, Tier) {
	orgContext := "Banca Organizadora"
	if p.Organization != "" {
		orgContext = "BANCA OFICIAL: " + p.Organization
	}
	roleContext := "Cargo Genérico"
	if p.Role != "" {
		roleContext = "CARGO: " + p.Role
	}

	switch {
	case p.StudyContent != "":
		return fmt.Sprintf(`VOCÊ É A PRÓPRIA BANCA EXAMINADORA (%s).

OBJETIVO: Elaborar um simulado de %d questões para o concurso "%s" (%s).
ASSUNTO DA PROVA: %s.

MATERIAL DE BASE (o que o aluno estudou):
"""
%s
"""

REGRAS PARA ELABORAÇÃO:
1. PROIBIDO fazer perguntas sobre o texto acima (ex: "Segundo o texto..."). Ele serve APENAS para indicar o CONTEÚDO TÉCNICO cobrado.
2. Crie questões de PROVA REAL: aplique o conhecimento em situações novas, casos hipotéticos ou questões teóricas diretas.
3. Copie o vocabulário, o tamanho dos enunciados e o estilo das alternativas da banca.
4. Se o assunto for Interpretação de Texto, gere um TEXTO NOVO e curto no enunciado.
5. Nível difícil/competitivo.
6. Cada questão tem exatamente 5 alternativas.

Retorne APENAS o JSON array.`, orgContext, p.Count, p.ExamContext, roleContext, p.Topic, head(p.StudyContent, maxStudyMaterialChars)), TierPrecision

	case p.FullExam():
		var structure string
		if strings.TrimSpace(p.Blueprint) != "" {
			structure = "SIGA ESTRITAMENTE ESTA DISTRIBUIÇÃO E ESTRUTURA REAL (BLUEPRINT):\n" + p.Blueprint
		} else {
			weights := make([]string, len(p.Subjects))
			for i, s := range p.Subjects {
				weights[i] = fmt.Sprintf("%s (Peso: %s)", s.Name, s.Importance)
			}
			structure = "DISTRIBUA AS QUESTÕES BASEADO NA IMPORTÂNCIA:\n" + strings.Join(weights, "; ")
		}

		return fmt.Sprintf(`ATENÇÃO: VOCÊ É O EXAMINADOR CHEFE (%s).

Crie a PROVA FINAL (Simulado Real) para o concurso "%s" (%s).

QUANTIDADE TOTAL: %d questões.

%s

DIRETRIZES DE REALISMO:
1. Escreva exatamente como a banca escreve.
   - Cebraspe: linguagem técnica, focada em situação-problema.
   - FGV: textos longos, interpretação complexa, casos práticos em Direito.
   - Vunesp/FCC: lei seca misturada com doutrina consolidada.
2. As questões devem ser pertinentes ao dia a dia do cargo.
3. Distribuição de dificuldade: fáceis (10%%), médias (50%%) e difíceis (40%%).
4. Use os distratores clássicos desta banca.
5. Cada questão tem exatamente 5 alternativas.

Retorne APENAS o JSON array.`, orgContext, p.ExamContext, roleContext, p.Count, structure), TierPrecision

	default:
		return fmt.Sprintf(`Crie um simulado de questões inéditas para o concurso: "%s".
Foco do conteúdo: %s.
Quantidade de questões: %d.
Estilo da banca: imite o estilo da banca organizadora comum para este cargo.
IMPORTANTE: gere exatamente 5 alternativas por questão.
Retorne apenas o JSON array.`, p.ExamContext, p.Topic, p.Count), TierSimulation
	}
}

func writeOptions(b *strings.Builder, q models.Question) {
	for i, opt := range q.Options {
		fmt.Fprintf(b, "%s) %s\n", models.OptionLabel(i), opt)
	}
}

func buildErrorAnalysisPrompt(q models.Question, userOptionLabel, examContext string) string {
	var b strings.Builder
	b.WriteString("ATUE COMO O MELHOR PROFESSOR DE CURSINHO PREPARATÓRIO.\n\n")
	fmt.Fprintf(&b, "O aluno acabou de responder uma questão do concurso %q e precisa de uma análise profunda.\n\n", examContext)
	fmt.Fprintf(&b, "A QUESTÃO:\n%q\n\nALTERNATIVAS:\n", q.Text)
	writeOptions(&b, q)
	fmt.Fprintf(&b, "\nGABARITO: %s\n", models.OptionLabel(q.CorrectOptionIndex))
	fmt.Fprintf(&b, "ALUNO MARCOU: %s\n\n", userOptionLabel)
	b.WriteString("MISSÃO:\nGere uma explicação didática e completa em Markdown: por que a alternativa correta está certa e por que a marcada está errada.")
	return b.String()
}

// buildQuestionTutorPrompt never carries the answer key while the question
// is unanswered, so the model has nothing to leak.
func buildQuestionTutorPrompt(q models.Question, query string, isAnswered bool) string {
	var b strings.Builder
	b.WriteString("ATUE COMO UM TUTOR DE ELITE DE CONCURSOS.\n\n")
	b.WriteString("O ALUNO ESTÁ RESOLVENDO ESTA QUESTÃO AGORA:\n")
	fmt.Fprintf(&b, "Enunciado: %q\nAlternativas:\n", q.Text)
	writeOptions(&b, q)

	if isAnswered {
		fmt.Fprintf(&b, "Gabarito Correto: %s\n\n", models.OptionLabel(q.CorrectOptionIndex))
		b.WriteString("STATUS DO ALUNO: JÁ RESPONDEU A QUESTÃO\n\n")
	} else {
		b.WriteString("\nSTATUS DO ALUNO: AINDA NÃO RESPONDEU (ESTÁ COM DÚVIDA)\n\n")
	}

	fmt.Fprintf(&b, "PERGUNTA DO ALUNO:\n%q\n\n", query)

	b.WriteString("SUA MISSÃO:\n")
	if isAnswered {
		b.WriteString("1. Explique livremente, confirme o gabarito e aprofunde a explicação.\n")
	} else {
		b.WriteString("1. NÃO DÊ A RESPOSTA DIRETA e não indique qual alternativa é a correta. Dê dicas, explique o conceito por trás e ajude-o a eliminar alternativas absurdas. Guie-o até a resposta.\n")
	}
	b.WriteString("2. Seja breve, direto e didático. Use Markdown.")
	return b.String()
}

func buildPastExamPrompt(query string) string {
	return fmt.Sprintf(`Você é um Arquivista de Concursos Públicos.
O usuário quer encontrar a PROVA REAL (questões históricas) com a seguinte busca: "%s".

1. Pesquise o conteúdo original desta prova específica (PDFs, sites de questões, gabaritos).
2. Identifique o Ano e a Banca Organizadora exata.
3. Extraia ou reconstrua o texto das questões REAIS:
   - Tente encontrar pelo menos 20 a 30 questões originais.
   - Mantenha o enunciado e as alternativas fiéis ao original.
   - Indique a alternativa correta segundo o gabarito oficial.

SAÍDA OBRIGATÓRIA:
Responda APENAS com um objeto JSON válido, sem texto introdutório ou markdown:
{
  "meta": {"title": "Título da Prova", "year": "Ano", "org": "Banca"},
  "questions": [
    {"id": "1", "text": "Enunciado...", "options": ["A", "B", "C", "D", "E"], "correctOptionIndex": 0, "explanation": "Comentário...", "topic": "Assunto"}
  ]
}`, query)
}

func buildStudyContentPrompt(exam *models.ExamData, subject, topic string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ATUE COMO O MELHOR PROFESSOR DE CONCURSOS DO BRASIL (especialista na banca %s).\n\n", exam.Organization)
	fmt.Fprintf(&b, "Sua missão é criar o material de estudo DEFINITIVO para o tópico %q (%s).\n\n", topic, subject)
	b.WriteString("CONTEXTO:\n")
	fmt.Fprintf(&b, "- Concurso: %s\n- Banca: %s\n", exam.Title, exam.Organization)
	if exam.SelectedRole != "" {
		fmt.Fprintf(&b, "- Cargo Foco: %s\n", exam.SelectedRole)
	}
	b.WriteString("- Considere questões anteriores dessa banca sobre o assunto para moldar a explicação.\n\n")
	b.WriteString("ESTRUTURA OBRIGATÓRIA DA AULA (MARKDOWN):\n")
	fmt.Fprintf(&b, "# %s\n", topic)
	fmt.Fprintf(&b, "> **Visão Geral:** o que é isso e por que cai na prova da %s?\n", exam.Organization)
	b.WriteString("## 1. A Mecânica da Regra (Teoria Pura)\n")
	b.WriteString("## 2. Regras de Ouro & Exceções\n")
	fmt.Fprintf(&b, "## 3. Raio-X da Banca %s\n", exam.Organization)
	b.WriteString("## 4. Exemplos Práticos Comentados\n")
	b.WriteString("## 5. Resumo para Memorizar\n\n")
	b.WriteString("TOM DE VOZ: autoritário mas didático.")
	return b.String()
}

func buildExpandContentPrompt(exam *models.ExamData, topic, content string) string {
	return fmt.Sprintf(`VOCÊ É O PROFESSOR DO CURSO AVANÇADO do concurso %s (%s).
O aluno já leu o material básico abaixo sobre %q e pediu MAIS CONTEÚDO para se aprofundar.

MATERIAL JÁ EXISTENTE (trecho final):
"""
%s
"""

SUA MISSÃO - CRIE UM APÊNDICE AVANÇADO EM MARKDOWN:
1. Traga nuances mais profundas, jurisprudência e exceções pouco conhecidas.
2. Não repita o que já foi explicado.
3. Adicione 2 questões de nível difícil com gabarito comentado.`, exam.Title, exam.Organization, topic, tail(content, maxExpandTailChars))
}

func buildStudyTutorPrompt(content, question string) string {
	return fmt.Sprintf(`Você é um Professor Particular gentil e extremamente didático.
CONTEXTO:
"""
%s
"""
DÚVIDA: %q
Responda de forma clara, em Markdown.`, head(content, maxTutorContextChars), question)
}

func buildStepByStepPrompt(topic, content string) string {
	var b strings.Builder
	b.WriteString("ATUE COMO UM PROFESSOR AVANÇADO.\n")
	fmt.Fprintf(&b, "Tópico: %q.\n", topic)
	if strings.TrimSpace(content) != "" {
		fmt.Fprintf(&b, "Material de referência:\n\"\"\"\n%s\n\"\"\"\n", head(content, maxTutorContextChars))
	}
	b.WriteString("Missão: explicar o passo a passo lógico, o algoritmo mental de resolução das questões deste tópico. Use Markdown.")
	return b.String()
}

func buildDailyPlanPrompt(exam *models.ExamData, availableHours float64) string {
	completed := "Nenhum ainda."
	if len(exam.CompletedTopics) > 0 {
		completed = strings.Join(exam.CompletedTopics, ", ")
	}

	var topics []string
	for _, s := range exam.Subjects {
		for _, t := range s.Topics {
			topics = append(topics, fmt.Sprintf("%s (Matéria: %s, Importância: %s)", t, s.Name, s.Importance))
		}
	}

	role := ""
	if exam.SelectedRole != "" {
		role = " (Focado no cargo: " + exam.SelectedRole + ")"
	}

	return fmt.Sprintf(`ATUE COMO UM COACH DE CONCURSOS DE ALTO NÍVEL.

O aluno tem %s horas disponíveis HOJE.

MISSÃO: criar um cronograma de estudos extremamente eficiente para hoje.
CONCURSO: %s%s.

ESTADO ATUAL DO ALUNO:
- Tópicos já estudados (candidatos a REVISAO): %s
- Tópicos do edital (candidatos a TEORIA): %s

CICLO DE ESTUDO:
1. REVISAO (20%% do tempo): tópicos que ele JÁ ESTUDOU. Se não houver nenhum, ignore.
2. TEORIA (60%% do tempo): tópicos NOVOS de alta importância ainda não estudados. Intercale matérias.
3. QUESTOES (20%% do tempo): bateria de exercícios dos temas estudados hoje.
Use LEI_SECA para leitura de legislação quando fizer sentido.

DETALHES:
- Blocos de 30 a 60 minutos.
- Diga a matéria e o tópico exato de cada bloco.
- Não liste intervalos; ajuste a duração dos blocos.

Retorne APENAS o JSON {"slots": [{"subject", "topic", "activityType", "durationMinutes", "notes"}]}.`,
		formatHours(availableHours), exam.Title, role, completed, strings.Join(topics, "; "))
}

func formatHours(h float64) string {
	s := fmt.Sprintf("%.1f", h)
	return strings.TrimSuffix(s, ".0")
}

// head returns at most n runes from the start of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// tail returns at most n runes from the end of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
