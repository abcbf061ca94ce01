package colorconv

// BT.601 studio-range RGB to YUV, column-major. Multiplying vec4(rgb, 1)
// gives (Y, V, U, 1) with the 16/128 offsets folded into the last column.
const rgbToYUV = `
const mat4 RGBtoYUV = mat4(0.257,  0.439, -0.148, 0.0,
                           0.504, -0.368, -0.291, 0.0,
                           0.098, -0.071,  0.439, 0.0,
                           0.0625, 0.500,  0.500, 1.0);
`

const rotateZ = `
mat4 rotate_z(in float angle) {
    return mat4(cos(angle), -sin(angle), 0.0, 0.0,
                sin(angle),  cos(angle), 0.0, 0.0,
                0.0,         0.0,        1.0, 0.0,
                0.0,         0.0,        0.0, 1.0);
}
`

const vertexShaderY = `#version 300 es
in vec2 pos;
in vec2 texcoords;
out vec2 texcoords_out;
uniform float rotation;
` + rotateZ + `
void main() {
    texcoords_out = texcoords;
    gl_Position = vec4(pos.x, pos.y, 0.0, 1.0) * rotate_z(rotation);
}
`

const fragmentShaderY = `#version 300 es
precision mediump float;
in vec2 texcoords_out;
uniform sampler2D tex1;
out vec4 FragColor;
` + rgbToYUV + `
void main() {
    vec4 pixel = texture(tex1, texcoords_out);
    FragColor.x = (RGBtoYUV * vec4(pixel.rgb, 1.0)).x;
    FragColor.w = pixel.a;
}
`

// The UV pass renders into a half-size target, so the quad is scaled by
// half and shifted back to the lower-left origin.
const vertexShaderUV = `#version 300 es
in vec2 pos;
in vec2 texcoords;
out vec2 texcoords_out;
uniform float rotation;
` + rotateZ + `
void main() {
    texcoords_out = texcoords;
    gl_Position = vec4(pos.x, pos.y, 0.0, 1.0) * rotate_z(rotation) * vec4(0.5, 0.5, 1.0, 1.0) - vec4(0.5, 0.5, 0.0, 0.0);
}
`

const fragmentShaderUV = `#version 300 es
precision mediump float;
in vec2 texcoords_out;
uniform sampler2D tex1;
out vec4 FragColor;
` + rgbToYUV + `
void main() {
    vec4 pixel = texture(tex1, texcoords_out);
    FragColor.xy = (RGBtoYUV * vec4(pixel.rgb, 1.0)).zy;
    FragColor.w = pixel.a;
}
`
