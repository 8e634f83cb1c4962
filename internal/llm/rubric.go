package llm

// RubricVersion identifies the adjudication rule set. Bump it whenever the
// rubric text changes so cached decisions from older wordings expire with
// their keys.
const RubricVersion = "v3"

// Rubric is the rule set embedded verbatim in every validation prompt.
// The adjudication quality depends on this exact wording; it is asserted
// into every prompt variant by tests and must only be edited alongside a
// RubricVersion bump.
const Rubric = `REGRAS DE ADJUDICACAO:

1. SUFIXO NUMERICO DISTINGUE: membros cuja unica diferenca e um sufixo numeral
   romano ou arabico (I/1, II/2, III/3, ...) sao lugares DISTINTOS.
   Ex.: "Parque Industrial I" e "Parque Industrial II" NAO sao duplicatas.

2. DIRECAO CARDEAL DISTINGUE: membros que diferem apenas por Norte/Sul/Leste/Oeste
   sao lugares DISTINTOS.

3. COMPLEMENTO GEOGRAFICO DISTINGUE (cidades): um nome de cidade com complemento
   geografico extra (ex.: "São Geraldo" vs "São Geraldo do Baixio") e um municipio
   DIFERENTE; cada codigo de registro e uma entidade separada.

4. COMPLEMENTO DE SETOR DISTINGUE (bairros): "Setor Marista" e "Setor Marista Sul"
   sao bairros DISTINTOS.

5. VARIACAO DE GRAFIA EQUIVALE: variantes do mesmo nome (acentos, maiusculas,
   espacamento interno) SAO duplicatas.

6. ABREVIACAO EQUIVALE: "Ed. Aurora" EQUIVALE a "Edifício Aurora".

7. PREFIXO PODE EQUIVALER: "Condomínio X", "Residencial X" e "X" PODEM ser o mesmo
   lugar, se o contexto confirmar.

8. NUMERAL AUSENTE vs PRESENTE: um nome sem numeral vs o mesmo nome com numeral
   (ex.: "Belvedere" vs "Belvedere 1") e uma POSSIVEL duplicata — use o endereco
   completo e o contexto para confirmar.`
